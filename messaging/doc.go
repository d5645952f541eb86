// Package messaging implements tag-correlated routing between a pool of
// clients and a single server.
//
// The pieces, leaves first:
//   - TagGenerator: produces correlation tags (sequential by default)
//   - CorrelationTable: maps in-flight tags to the originating client index
//   - RequestRouter: drains client queues, tags requests, forwards them to the server
//   - ResponseRouter: drains the server queue, resolves tags, delivers to clients
//   - Dispatcher: runs request routing then response routing, forever
//
// Example usage:
//
//	table := messaging.NewCorrelationTable()
//	requests := messaging.NewRequestRouter(clientOut, serverIn, table)
//	responses := messaging.NewResponseRouter(serverOut, clientIn, table)
//	dispatcher := messaging.NewDispatcher(requests, responses,
//		messaging.WithEntryTTL(30*time.Second),
//	)
//	err := dispatcher.Run(ctx)
//
// No anomaly stops the dispatcher. Unknown tags are dropped with a warning
// and requests that never see a response are evicted by the expiry sweep.
package messaging
