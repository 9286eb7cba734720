package content

// DeadLetterEntry is one quarantined stage failure, pushed onto the
// Redis-backed dead-letter list after a Post's stage exhausts its
// retries (§4.H, §6 wire format).
type DeadLetterEntry struct {
	PostID   string `json:"post_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
	FailedAt string `json:"failed_at"`
}
