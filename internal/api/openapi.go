package api

import (
	"bytes"
	"context"
	"embed"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
)

//go:embed openapi.yaml
var openAPIFS embed.FS

// loadOpenAPIRouter parses the embedded adapter-contract document and
// builds the request router kin-openapi uses to resolve a path to its
// schema, per spec §6's adapter HTTP surface.
func loadOpenAPIRouter() (routers.Router, error) {
	data, err := openAPIFS.ReadFile("openapi.yaml")
	if err != nil {
		return nil, sharederrors.FailedTo("read embedded openapi document", err)
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, sharederrors.FailedTo("parse embedded openapi document", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, sharederrors.FailedTo("validate embedded openapi document", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, sharederrors.FailedTo("build openapi router", err)
	}
	return router, nil
}

// validateRequestBody is called by router.go's validateOpenAPI middleware to confirm an incoming
// request matches the embedded OpenAPI document's schema for that route
// before touching the governance pipeline, per spec §6/§7's
// validation-first error handling.
func validateRequestBody(router routers.Router, r *http.Request) error {
	// Buffer the body so it survives kin-openapi's read and remains
	// available for the handler's own json.Decode afterward.
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return sharederrors.ValidationError("body", "failed to read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}

	route, pathParams, err := router.FindRoute(r)
	if err != nil {
		return sharederrors.ValidationError("route", "request does not match the adapter API contract")
	}
	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
	}
	if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
		return sharederrors.ValidationError("body", err.Error())
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return nil
}
