package model

// ConversationID is the storage partition key for a 1:1 thread. User ids
// are ordered so both directions of the conversation map to one key.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
