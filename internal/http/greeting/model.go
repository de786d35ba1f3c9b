package greeting

// Message is the fixed greeting returned by the root route.
const Message = "Hello Hono!"

// Data is the greeting payload.
type Data struct {
	Message string `json:"message" doc:"Greeting message" example:"Hello Hono!"`
}

// GetOutput wraps the greeting for huma.
type GetOutput struct {
	Body Data
}
