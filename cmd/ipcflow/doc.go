// Command ipcflow runs ipcflow servers and clients from the shell.
//
//	ipcflow serve --socket /tmp/app.sock --echo
//	ipcflow publish --socket /tmp/app.sock hello '{"name":"world"}'
//	ipcflow subscribe --socket /tmp/app.sock hello
//	ipcflow relay --socket /tmp/app.sock --to nats --forward hello
//
// Settings come from an optional TOML file (--config) overridden by flags.
package main
