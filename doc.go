// Package oneclient runs OneClient use cases through a sandboxed core.
//
// A Client is built from a config.Config. It wires the network, filesystem,
// timer and telemetry capabilities, loads the core lazily on the first perform and
// resolves profile, provider and map files from the assets directory:
//
//	client, err := oneclient.NewClient(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	result, err := client.Profile("weather/current-city").
//	    UseCase("GetCurrentWeatherInCity").
//	    Perform(ctx, map[string]any{"city": "Prague"}, oneclient.PerformOptions{Provider: "wttr-in"})
package oneclient
