// Package reliability provides retry policies for operations that may fail
// transiently, such as dialing a broker.
//
// Example usage:
//
//	policy := NewExponentialBackoff(200*time.Millisecond, 5*time.Second, 2.0, 3)
//	err := Retry(ctx, policy, func() error {
//	    return connect()
//	})
package reliability
