package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// openapiSpec describes the HTTP surface. formSchema is the exported JSON
// Schema of the active form and is attached to the snapshot request body.
func openapiSpec(formSchema json.RawMessage) *openapi3.T {
	snapshot := openapi3.NewObjectSchema()
	if len(formSchema) > 0 {
		var parsed openapi3.Schema
		if err := json.Unmarshal(formSchema, &parsed); err != nil {
			log.Printf("form schema not embedded in openapi document: %v", err)
		} else {
			snapshot = &parsed
		}
	}

	result := openapi3.NewObjectSchema().
		WithProperty("structuralErrors", openapi3.NewArraySchema().WithItems(
			openapi3.NewObjectSchema().
				WithProperty("path", openapi3.NewStringSchema()).
				WithProperty("message", openapi3.NewStringSchema()),
		)).
		WithProperty("aggregateError", openapi3.NewStringSchema()).
		WithProperty("isValid", openapi3.NewBoolSchema())

	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())}
	sessionParams := openapi3.Parameters{idParam}

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "formsum",
			Version: "1.0.0",
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/healthz", &openapi3.PathItem{
				Get: operation("healthz", "Liveness check", jsonResponse(http.StatusOK, "OK", nil)),
			}),
			openapi3.WithPath("/v1/schema", &openapi3.PathItem{
				Get: operation("getSchema", "Active form schema as JSON Schema", jsonResponse(http.StatusOK, "Draft 7 document", nil)),
			}),
			openapi3.WithPath("/v1/sessions", &openapi3.PathItem{
				Post: operation("openSession", "Open a form session",
					jsonResponse(http.StatusCreated, "Session opened", nil),
					jsonResponse(http.StatusTooManyRequests, "Session limit reached", nil),
				),
			}),
			openapi3.WithPath("/v1/sessions/{id}", &openapi3.PathItem{
				Parameters: sessionParams,
				Get:        operation("getSession", "Session state", jsonResponse(http.StatusOK, "Session", nil)),
				Delete:     operation("closeSession", "Discard a session", emptyResponse(http.StatusNoContent, "Closed")),
			}),
			openapi3.WithPath("/v1/sessions/{id}/data", &openapi3.PathItem{
				Parameters: sessionParams,
				Put: withBody(
					operation("putData", "Replace the form snapshot and validate it", jsonResponse(http.StatusOK, "Validation result", result)),
					snapshot,
				),
				Get: operation("getData", "Last validated snapshot", jsonResponse(http.StatusOK, "Snapshot", nil)),
			}),
			openapi3.WithPath("/v1/sessions/{id}/result", &openapi3.PathItem{
				Parameters: sessionParams,
				Get:        operation("getResult", "Last validation result", jsonResponse(http.StatusOK, "Validation result", result)),
			}),
			openapi3.WithPath("/v1/sessions/{id}/summary", &openapi3.PathItem{
				Parameters: sessionParams,
				Get:        operation("getSummary", "Read-only row summary, JSON or HTML with format=html", jsonResponse(http.StatusOK, "Summary", nil)),
			}),
			openapi3.WithPath("/v1/sessions/{id}/submit", &openapi3.PathItem{
				Parameters: sessionParams,
				Post: operation("submit", "Submit a valid form",
					jsonResponse(http.StatusCreated, "Submission accepted", nil),
					jsonResponse(http.StatusUnprocessableEntity, "Form is invalid", nil),
				),
			}),
			openapi3.WithPath("/v1/submissions/{id}", &openapi3.PathItem{
				Parameters: sessionParams,
				Get: operation("getSubmission", "Stored submission with its snapshot",
					jsonResponse(http.StatusOK, "Submission", nil),
					jsonResponse(http.StatusNotFound, "Unknown submission", nil),
				),
			}),
		),
	}
}

type statusResponse struct {
	status int
	ref    *openapi3.ResponseRef
}

func jsonResponse(status int, description string, schema *openapi3.Schema) statusResponse {
	resp := openapi3.NewResponse().WithDescription(description)
	if schema != nil {
		resp = resp.WithJSONSchema(schema)
	}
	return statusResponse{status: status, ref: &openapi3.ResponseRef{Value: resp}}
}

func emptyResponse(status int, description string) statusResponse {
	return statusResponse{status: status, ref: &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(description)}}
}

func operation(id, summary string, responses ...statusResponse) *openapi3.Operation {
	opts := make([]openapi3.NewResponsesOption, 0, len(responses))
	for _, r := range responses {
		opts = append(opts, openapi3.WithStatus(r.status, r.ref))
	}
	return &openapi3.Operation{
		OperationID: id,
		Summary:     summary,
		Responses:   openapi3.NewResponses(opts...),
	}
}

func withBody(op *openapi3.Operation, schema *openapi3.Schema) *openapi3.Operation {
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(schema),
	}
	return op
}
