package router

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIFile = "../../../public/docs/v1/openapi.yml"

var fiberParam = regexp.MustCompile(`:(\w+)`)

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromFile(openAPIFile)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	doc := loadOpenAPI(t)
	s := newTestServer(t)

	seen := 0
	for _, route := range s.app.GetRoutes(true) {
		if route.Method == http.MethodHead {
			continue
		}
		path := route.Path
		if len(path) > 1 {
			path = strings.TrimRight(path, "/")
		}
		path = fiberParam.ReplaceAllString(path, "{$1}")

		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "undocumented path %s", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(route.Method), "undocumented operation %s %s", route.Method, path)
		seen++
	}
	assert.Equal(t, 16, seen)
}

func TestOpenAPIAdminOperationsRequireToken(t *testing.T) {
	doc := loadOpenAPI(t)

	for path, item := range doc.Paths.Map() {
		if !strings.HasPrefix(path, "/admin/api/") {
			continue
		}
		for method, op := range item.Operations() {
			require.NotNil(t, op.Security, "%s %s", method, path)
			assert.Contains(t, (*op.Security)[0], "adminToken", "%s %s", method, path)
		}
	}
}
