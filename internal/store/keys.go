package store

// IdentityKey is the single global key holding the durable guest identifier
// for this storage scope.
const IdentityKey = "leadchat_guest_id"

// GuestKey addresses the cached profile plus session bookkeeping for a guest.
func GuestKey(guestID string) string { return "guest_" + guestID }

// ChatKey addresses the persisted conversation log for a guest.
func ChatKey(guestID string) string { return "chat_" + guestID }
