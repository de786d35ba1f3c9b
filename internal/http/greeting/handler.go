package greeting

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Register wires the greeting route into the provided API.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-greeting",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Static greeting",
		Description: "Returns a fixed acknowledgment. The request is not inspected.",
		Tags:        []string{"Greeting"},
	}, getHandler)
}

func getHandler(context.Context, *struct{}) (*GetOutput, error) {
	return &GetOutput{Body: Data{Message: Message}}, nil
}
