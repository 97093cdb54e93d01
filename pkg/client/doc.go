// Package client provides a hand-written Go SDK for the Task Queue API,
// matching the server's own hand-written (not OpenAPI-generated) HTTP
// surface, plus a WebSocket client for real-time event streaming.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create a task
//	t, err := c.SubmitTask(ctx, client.CreateTaskRequest{
//	    Type:    "read",
//	    Payload: json.RawMessage(`{"key":"value"}`),
//	})
//
// # WebSocket Events
//
//	err := client.ConnectWebSocket(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.CloseWebSocket()
//
//	for event := range client.Events() {
//	    fmt.Printf("Event: %s\n", event.Type)
//	}
//
// # Configuration
//
// The client supports functional options for configuration:
//
//	client, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(30 * time.Second),
//	)
package client
