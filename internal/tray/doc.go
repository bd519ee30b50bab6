// Package tray keeps the status shown by the system tray icon: whether the
// agent is running, how it last exited, and how many requests are waiting
// for the user.
package tray
