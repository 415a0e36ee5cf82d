// Package broadcast delivers one text to many users.
//
// Delivery is sequential and best-effort: a failed send is logged and
// recorded, then the loop moves on. There are no retries and no rate limit.
package broadcast
