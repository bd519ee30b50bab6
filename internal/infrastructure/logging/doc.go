// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON; development mode writes colored console
// output. Both write to stderr so stdout stays clean.
//
// Components receive a named *zap.Logger:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Logging.Level, cfg.Logging.Development))
//	sup := supervisor.New(cfg.AppServer, d, supervisor.WithLogger(logger.Component("supervisor")))
//
// The level is shared by every component and can be changed at runtime
// with SetLevel; the REST API exposes it at /logs/level.
//
// The app-server's own stderr is re-logged line by line under the
// "app-server.stderr" name.
package logging
