package quotable_client

const (
	BaseURL = "https://api.quotable.io"

	RandomQuoteEndpoint = "/random"
)
