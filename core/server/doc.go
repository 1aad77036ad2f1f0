// Package server wraps the standard http.Server with a start/stop lifecycle,
// graceful shutdown and TLS configuration helpers. It provides no middleware,
// health-check endpoints, metrics or signal handling of its own; those belong
// to the handler passed in and to the caller.
//
// # Basic Usage
//
// New takes the listen address and functional options; the handler is given
// when the server is started:
//
//	import "github.com/plaidrun/plaid/core/server"
//
//	srv := server.New(":8080",
//		server.WithLogger(logger),
//		server.WithShutdownTimeout(10*time.Second),
//	)
//
//	// Start blocks until ctx is canceled or the listener fails.
//	go func() {
//		if err := srv.Start(ctx, router); err != nil && !errors.Is(err, context.Canceled) {
//			log.Fatal("server failed:", err)
//		}
//	}()
//
//	// Stop shuts the server down gracefully within the shutdown timeout.
//	<-ctx.Done()
//	if err := srv.Stop(); err != nil {
//		log.Println("shutdown failed:", err)
//	}
//
// Without options the server logs nothing (a discarding logger) and waits up
// to 30 seconds for in-flight requests on Stop.
//
// # errgroup Integration
//
// Server.Run returns a func() error that starts the server and calls Stop
// when ctx is canceled, for use with errgroup.Group.Go:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, router))
//
// The package-level Run(ctx, addr, handler) creates a server with default
// settings and starts it.
//
// # Configuration
//
// NewFromConfig builds a Server from a Config value (address, timeouts,
// header limit and optional certificate files); DefaultConfig returns one
// with the package defaults.
//
// # TLS Configuration
//
// WithTLS takes a ready *tls.Config. The package offers preset configs
// (DefaultTLSConfig, ModernTLSConfig, IntermediateTLSConfig, StrictTLSConfig)
// and NewTLSConfig, which applies TLSConfigOption values and returns an
// error when one of them fails:
//
//	tlsCfg, err := server.NewTLSConfig(
//		server.WithTLSCertificate("cert.pem", "key.pem"),
//		server.WithTLSMinVersion(tls.VersionTLS13),
//	)
//	if err != nil {
//		return err // wraps ErrFailedLoadCert when the key pair cannot be loaded
//	}
//	srv := server.New(":8443", server.WithTLS(tlsCfg))
//
// # Automatic Certificates
//
// NewAutoCertServer and NewAutoCertFromConfig set up a server that obtains
// certificates through ACME (autocert), configured with AutoCertOption values.
package server
