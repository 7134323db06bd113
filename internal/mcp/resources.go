package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ResourceScheme prefixes the URIs of the scan documents.
const ResourceScheme = "forge://"

// ResourceInfo describes one registered resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ListResources returns the scan documents in URI order.
func (s *Server) ListResources() []ResourceInfo {
	out := make([]ResourceInfo, 0, len(documentFiles))
	for doc, file := range documentFiles {
		out = append(out, ResourceInfo{URI: ResourceScheme + doc, Name: file, MIMEType: "application/json"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// registerResources exposes every scan document. Documents are read on
// each request so clients see the output of the latest scan.
func (s *Server) registerResources() {
	for _, r := range s.ListResources() {
		doc := r.URI[len(ResourceScheme):]
		s.mcp.AddResource(&mcp.Resource{
			Name:        r.Name,
			URI:         r.URI,
			Description: fmt.Sprintf("%s from the last scan (%s)", r.Name, s.documentPath(r.Name)),
			MIMEType:    r.MIMEType,
		}, s.makeDocumentHandler(doc))
	}
}

func (s *Server) makeDocumentHandler(doc string) mcp.ResourceHandler {
	return func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readDocument(doc)
	}
}

// readDocument returns a scan document as resource contents.
func (s *Server) readDocument(doc string) (*mcp.ReadResourceResult, error) {
	raw, err := s.document(doc)
	if err != nil {
		if me := MapError(err); me.Code == ErrCodeIndexNotFound {
			return nil, NewResourceNotFoundError(ResourceScheme + doc)
		}
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      ResourceScheme + doc,
			MIMEType: "application/json",
			Text:     string(raw),
		}},
	}, nil
}
