// Package distant is a client and server for remote command execution and
// remote filesystem access over a framed, authenticated, encrypted
// transport.
//
// A server exposes the machine it runs on: file operations, process
// spawning with optional PTY, recursive filesystem watching, and streaming
// search. A client connects with a shared key, issues typed operations, and
// transparently reconnects with frame replay when the link drops.
//
// Connect to a running server with a credentials string:
//
//	client, err := distant.Connect(ctx, "distant://s3cret@example.com:8080")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	out, err := client.ReadFile(ctx, "/etc/hostname")
//
// Serve a machine:
//
//	srv, err := distant.NewServer(distant.WithServerKey("s3cret"))
//	if err != nil {
//		return err
//	}
//	srv.ListenAndServe(ctx, "0.0.0.0:8080")
package distant
