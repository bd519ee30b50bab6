/*
Package resilience provides a circuit breaker.

The supervisor runs every app-server launch through a Breaker. A binary
that keeps failing its spawn or handshake trips the breaker, and further
start attempts fail fast with an *OpenError carrying the last failure and
how long until a trial launch is allowed.

	guard := resilience.New("app-server", resilience.Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: resilience.ConsecutiveFailures(3),
	})
	err := guard.Do(func() error { return launch(ctx) })

States move as follows:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
