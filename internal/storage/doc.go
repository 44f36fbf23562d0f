// Package storage provides the small durable key-value layer behind the
// notification pipeline.
//
// It currently holds:
//   - Notification preferences and the muted chat set (JSON blobs)
//   - The coarse watermark checkpoint
package storage
