// Package server assembles the shell: preferences, the app-server
// supervisor, the shell core, the tray model and the REST and websocket
// APIs, behind one gin engine.
//
//	srv, err := server.NewServer(cfg, logger, server.Options{})
//	srv.AutoStart()
//	go srv.Run()
//	...
//	srv.Shutdown(ctx)
package server
