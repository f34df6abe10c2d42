// Package bootstrap provisions a MongoDB database for an application.
// It authenticates as the administrator, makes sure the target collection exists,
// creates an application user scoped to the target database and finally proves the
// new credential works by logging in with it.
//
// Usage:
//
//	in, err := bootstrap.LoadInputs(cfg, secrets, sugar)
//	if err != nil {
//	    return err
//	}
//	b := bootstrap.New(bootstrap.InitDialer(cfg, sugar), in, bootstrap.DefaultOptions(), sugar)
//	result, err := b.Run(ctx)
//	os.Exit(bootstrap.ExitCode(err))
package bootstrap
