// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package nowcast implements a small request/response protocol over a file message queue.
//
// Peer processes share one queue as a bus. Every message carries its kind in the queue's
// type field, and a big-endian payload. Supported message kinds are identify requests
// and responses, triggers, forecast requests and forecast reports.
// A process may fire triggers and request forecasts with Queue's methods, and answer
// requests with Serve.
package nowcast
