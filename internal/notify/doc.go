// Package notify turns the unread message stream into in-app notifications.
//
// Flow per snapshot:
//
//	stream -> sort by timestamp -> watermark.Observe -> Eligible -> Queue.Admit
//
// The queue shows one notification at a time. A displayed notification is
// removed from the queue after DisplaySettle and hidden after AutoDismiss,
// both measured from display. Dismiss hides it at once and moves on to the
// next pending item.
package notify
