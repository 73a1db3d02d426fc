package contracts

import (
	"reflect"
	"sort"
)

// Known command types
const (
	CreateFrame     = "CREATE_FRAME"
	CreateRectangle = "CREATE_RECTANGLE"
	CreateText      = "CREATE_TEXT"
	DeleteNode      = "DELETE_NODE"
	MoveNode        = "MOVE_NODE"
	ResizeNode      = "RESIZE_NODE"
	SetFill         = "SET_FILL"
	GetSelection    = "GET_SELECTION"
	GetDocumentInfo = "GET_DOCUMENT_INFO"
)

// CreateFrameParams creates a frame on the current page
type CreateFrameParams struct {
	Name     string   `json:"name,omitempty" jsonschema:"frame name"`
	X        *float64 `json:"x,omitempty" jsonschema:"x position in canvas units"`
	Y        *float64 `json:"y,omitempty" jsonschema:"y position in canvas units"`
	Width    float64  `json:"width" jsonschema:"frame width, greater than zero"`
	Height   float64  `json:"height" jsonschema:"frame height, greater than zero"`
	ParentID string   `json:"parentId,omitempty" jsonschema:"id of the parent node"`
}

// CreateRectangleParams creates a rectangle
type CreateRectangleParams struct {
	Name         string   `json:"name,omitempty" jsonschema:"rectangle name"`
	X            *float64 `json:"x,omitempty" jsonschema:"x position in canvas units"`
	Y            *float64 `json:"y,omitempty" jsonschema:"y position in canvas units"`
	Width        float64  `json:"width" jsonschema:"rectangle width, greater than zero"`
	Height       float64  `json:"height" jsonschema:"rectangle height, greater than zero"`
	CornerRadius *float64 `json:"cornerRadius,omitempty" jsonschema:"corner radius"`
	ParentID     string   `json:"parentId,omitempty" jsonschema:"id of the parent node"`
}

// CreateTextParams creates a text node
type CreateTextParams struct {
	Text     string   `json:"text" jsonschema:"text content"`
	X        *float64 `json:"x,omitempty" jsonschema:"x position in canvas units"`
	Y        *float64 `json:"y,omitempty" jsonschema:"y position in canvas units"`
	FontSize *float64 `json:"fontSize,omitempty" jsonschema:"font size in points"`
	ParentID string   `json:"parentId,omitempty" jsonschema:"id of the parent node"`
}

// DeleteNodeParams deletes a node
type DeleteNodeParams struct {
	NodeID string `json:"nodeId" jsonschema:"id of the node to delete"`
}

// MoveNodeParams moves a node to an absolute position
type MoveNodeParams struct {
	NodeID string  `json:"nodeId" jsonschema:"id of the node to move"`
	X      float64 `json:"x" jsonschema:"new x position"`
	Y      float64 `json:"y" jsonschema:"new y position"`
}

// ResizeNodeParams resizes a node
type ResizeNodeParams struct {
	NodeID string  `json:"nodeId" jsonschema:"id of the node to resize"`
	Width  float64 `json:"width" jsonschema:"new width, greater than zero"`
	Height float64 `json:"height" jsonschema:"new height, greater than zero"`
}

// Color is an RGBA color with channels in [0, 1]
type Color struct {
	R float64  `json:"r" jsonschema:"red channel 0..1"`
	G float64  `json:"g" jsonschema:"green channel 0..1"`
	B float64  `json:"b" jsonschema:"blue channel 0..1"`
	A *float64 `json:"a,omitempty" jsonschema:"alpha channel 0..1"`
}

// SetFillParams sets a solid fill on a node
type SetFillParams struct {
	NodeID string `json:"nodeId" jsonschema:"id of the node to fill"`
	Color  Color  `json:"color" jsonschema:"solid fill color"`
}

// GetSelectionParams reads the current selection
type GetSelectionParams struct{}

// GetDocumentInfoParams reads document metadata
type GetDocumentInfoParams struct{}

// NodeResult identifies the node a command created or changed
type NodeResult struct {
	NodeID string `json:"nodeId" jsonschema:"id of the affected node"`
}

// DeleteResult reports a deletion
type DeleteResult struct {
	Deleted bool `json:"deleted" jsonschema:"true when the node was removed"`
}

// NodeSummary describes one node in a selection
type NodeSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// SelectionResult lists the selected nodes
type SelectionResult struct {
	Nodes []NodeSummary `json:"nodes" jsonschema:"selected nodes"`
}

// DocumentInfoResult describes the open document
type DocumentInfoResult struct {
	Name        string `json:"name"`
	PageCount   int    `json:"pageCount"`
	CurrentPage string `json:"currentPage,omitempty"`
}

// TypeSpec maps a command type tag to its params and result shapes
type TypeSpec struct {
	Type        string
	Description string
	Params      reflect.Type
	Result      reflect.Type
	Schema      string // JSON Schema (draft-07) for params
}

const geometrySchema = `
		"name": {"type": "string"},
		"x": {"type": "number"},
		"y": {"type": "number"},
		"width": {"type": "number", "exclusiveMinimum": 0},
		"height": {"type": "number", "exclusiveMinimum": 0},
		"parentId": {"type": "string", "minLength": 1}`

var catalogue = map[string]TypeSpec{
	CreateFrame: {
		Type:        CreateFrame,
		Description: "Create a frame on the current page",
		Params:      reflect.TypeOf(CreateFrameParams{}),
		Result:      reflect.TypeOf(NodeResult{}),
		Schema: `{
	"type": "object",
	"properties": {` + geometrySchema + `
	},
	"required": ["width", "height"]
}`,
	},
	CreateRectangle: {
		Type:        CreateRectangle,
		Description: "Create a rectangle on the current page",
		Params:      reflect.TypeOf(CreateRectangleParams{}),
		Result:      reflect.TypeOf(NodeResult{}),
		Schema: `{
	"type": "object",
	"properties": {` + geometrySchema + `,
		"cornerRadius": {"type": "number", "minimum": 0}
	},
	"required": ["width", "height"]
}`,
	},
	CreateText: {
		Type:        CreateText,
		Description: "Create a text node",
		Params:      reflect.TypeOf(CreateTextParams{}),
		Result:      reflect.TypeOf(NodeResult{}),
		Schema: `{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"x": {"type": "number"},
		"y": {"type": "number"},
		"fontSize": {"type": "number", "exclusiveMinimum": 0},
		"parentId": {"type": "string", "minLength": 1}
	},
	"required": ["text"]
}`,
	},
	DeleteNode: {
		Type:        DeleteNode,
		Description: "Delete a node",
		Params:      reflect.TypeOf(DeleteNodeParams{}),
		Result:      reflect.TypeOf(DeleteResult{}),
		Schema: `{
	"type": "object",
	"properties": {"nodeId": {"type": "string", "minLength": 1}},
	"required": ["nodeId"]
}`,
	},
	MoveNode: {
		Type:        MoveNode,
		Description: "Move a node to an absolute position",
		Params:      reflect.TypeOf(MoveNodeParams{}),
		Result:      reflect.TypeOf(NodeResult{}),
		Schema: `{
	"type": "object",
	"properties": {
		"nodeId": {"type": "string", "minLength": 1},
		"x": {"type": "number"},
		"y": {"type": "number"}
	},
	"required": ["nodeId", "x", "y"]
}`,
	},
	ResizeNode: {
		Type:        ResizeNode,
		Description: "Resize a node",
		Params:      reflect.TypeOf(ResizeNodeParams{}),
		Result:      reflect.TypeOf(NodeResult{}),
		Schema: `{
	"type": "object",
	"properties": {
		"nodeId": {"type": "string", "minLength": 1},
		"width": {"type": "number", "exclusiveMinimum": 0},
		"height": {"type": "number", "exclusiveMinimum": 0}
	},
	"required": ["nodeId", "width", "height"]
}`,
	},
	SetFill: {
		Type:        SetFill,
		Description: "Set a solid fill color on a node",
		Params:      reflect.TypeOf(SetFillParams{}),
		Result:      reflect.TypeOf(NodeResult{}),
		Schema: `{
	"type": "object",
	"properties": {
		"nodeId": {"type": "string", "minLength": 1},
		"color": {
			"type": "object",
			"properties": {
				"r": {"type": "number", "minimum": 0, "maximum": 1},
				"g": {"type": "number", "minimum": 0, "maximum": 1},
				"b": {"type": "number", "minimum": 0, "maximum": 1},
				"a": {"type": "number", "minimum": 0, "maximum": 1}
			},
			"required": ["r", "g", "b"]
		}
	},
	"required": ["nodeId", "color"]
}`,
	},
	GetSelection: {
		Type:        GetSelection,
		Description: "Read the current selection",
		Params:      reflect.TypeOf(GetSelectionParams{}),
		Result:      reflect.TypeOf(SelectionResult{}),
		Schema:      `{"type": "object"}`,
	},
	GetDocumentInfo: {
		Type:        GetDocumentInfo,
		Description: "Read document metadata",
		Params:      reflect.TypeOf(GetDocumentInfoParams{}),
		Result:      reflect.TypeOf(DocumentInfoResult{}),
		Schema:      `{"type": "object"}`,
	},
}

// Lookup returns the spec for a command type
func Lookup(commandType string) (TypeSpec, bool) {
	spec, ok := catalogue[commandType]
	return spec, ok
}

// Catalogue returns every known command type, sorted by type tag
func Catalogue() []TypeSpec {
	specs := make([]TypeSpec, 0, len(catalogue))
	for _, spec := range catalogue {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Type < specs[j].Type
	})
	return specs
}

// TypeOf returns the command type registered for a params value
func TypeOf(params any) (string, bool) {
	t := reflect.TypeOf(params)
	if t == nil {
		return "", false
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for tag, spec := range catalogue {
		if spec.Params == t {
			return tag, true
		}
	}
	return "", false
}
