package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"reflect"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

const docsPage = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Examline API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
    </script>
  </body>
</html>`

func openAPIPath(basePath string) string {
	return path.Join("/", basePath, "openapi.json")
}

// mountDocs serves the OpenAPI document under the base path and a Swagger
// UI page at /docs. The document is rendered once, on first request, after
// every operation has been registered.
func mountDocs(r chi.Router, api huma.API, basePath string) {
	docURL := openAPIPath(basePath)
	page := fmt.Sprintf(docsPage, docURL)
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})

	var (
		once sync.Once
		doc  []byte
		err  error
	)
	r.Get(docURL, func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			withErrorResponses(oas)
			doc, err = json.Marshal(oas)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
}

// withErrorResponses documents the error envelope as the default response
// of every operation.
func withErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	envelope := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		ops := []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch}
		for _, op := range ops {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: envelope}},
			}
		}
	}
}
