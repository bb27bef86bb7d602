package cmis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Browser Binding selectors and actions
const (
	SelectorObject         = "object"
	SelectorChildren       = "children"
	SelectorParents        = "parents"
	SelectorContent        = "content"
	SelectorTypeDefinition = "typeDefinition"
	SelectorContentChanges = "contentChanges"
	SelectorParent         = "parent"
	SelectorRepoInfo       = "repositoryInfo"

	ActionCreateDocument = "createDocument"
	ActionCreateFolder   = "createFolder"
	ActionSetContent     = "setContent"
	ActionDelete         = "delete"
	ActionDeleteTree     = "deleteTree"
)

// BrowserRepositoryInfo is one entry of the service document
type BrowserRepositoryInfo struct {
	RepositoryID         string              `json:"repositoryId"`
	RepositoryName       string              `json:"repositoryName"`
	ProductName          string              `json:"productName,omitempty"`
	ProductVersion       string              `json:"productVersion,omitempty"`
	RootFolderID         string              `json:"rootFolderId"`
	RepositoryURL        string              `json:"repositoryUrl"`
	RootFolderURL        string              `json:"rootFolderUrl"`
	LatestChangeLogToken string              `json:"latestChangeLogToken,omitempty"`
	Capabilities         BrowserCapabilities `json:"capabilities"`
}

type BrowserCapabilities struct {
	Changes string `json:"capabilityChanges"`
}

func (b *BrowserRepositoryInfo) ToRepositoryInfo() *RepositoryInfo {
	return &RepositoryInfo{
		ID:                   b.RepositoryID,
		Name:                 b.RepositoryName,
		ProductName:          b.ProductName,
		ProductVersion:       b.ProductVersion,
		RootFolderID:         b.RootFolderID,
		RepositoryURL:        b.RepositoryURL,
		RootFolderURL:        b.RootFolderURL,
		ChangesCapability:    ParseChangesCapability(b.Capabilities.Changes),
		LatestChangeLogToken: b.LatestChangeLogToken,
	}
}

// BrowserObject is an object in succinct form
type BrowserObject struct {
	SuccinctProperties map[string]any           `json:"succinctProperties"`
	ChangeEventInfo    *BrowserChangeEventInfo `json:"changeEventInfo,omitempty"`
}

type BrowserChangeEventInfo struct {
	ChangeType string `json:"changeType"`
	ChangeTime int64  `json:"changeTime"`
}

type BrowserObjectInFolder struct {
	Object      BrowserObject `json:"object"`
	PathSegment string        `json:"pathSegment,omitempty"`
}

type BrowserChildren struct {
	Objects      []BrowserObjectInFolder `json:"objects"`
	HasMoreItems bool                    `json:"hasMoreItems"`
	NumItems     int                     `json:"numItems"`
}

type BrowserParent struct {
	Object              BrowserObject `json:"object"`
	RelativePathSegment string        `json:"relativePathSegment,omitempty"`
}

type BrowserChanges struct {
	Objects        []BrowserObject `json:"objects"`
	HasMoreItems   bool            `json:"hasMoreItems"`
	ChangeLogToken string          `json:"changeLogToken,omitempty"`
}

type BrowserPropertyDefinition struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Updatability string `json:"updatability"`
	Cardinality  string `json:"cardinality"`
}

type BrowserTypeDefinition struct {
	ID                  string                               `json:"id"`
	BaseID              string                               `json:"baseId"`
	DisplayName         string                               `json:"displayName"`
	PropertyDefinitions map[string]BrowserPropertyDefinition `json:"propertyDefinitions"`
}

type BrowserDeleteTreeResult struct {
	FailedIDs []string `json:"ids"`
}

// BrowserError is the JSON body of a failed request
type BrowserError struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

func (b *BrowserTypeDefinition) ToTypeDefinition() *TypeDefinition {
	td := &TypeDefinition{
		ID:                  b.ID,
		BaseID:              b.BaseID,
		DisplayName:         b.DisplayName,
		PropertyDefinitions: make(map[string]PropertyDefinition, len(b.PropertyDefinitions)),
	}
	for id, pd := range b.PropertyDefinitions {
		if pd.ID == "" {
			pd.ID = id
		}
		upd := Updatability(pd.Updatability)
		if upd == "" {
			upd = UpdatabilityReadOnly
		}
		td.PropertyDefinitions[id] = PropertyDefinition{
			ID:           pd.ID,
			DisplayName:  pd.DisplayName,
			Updatability: upd,
			MultiValued:  pd.Cardinality == "multi",
		}
	}
	return td
}

func TypeDefinitionToBrowser(td *TypeDefinition) *BrowserTypeDefinition {
	out := &BrowserTypeDefinition{
		ID:                  td.ID,
		BaseID:              td.BaseID,
		DisplayName:         td.DisplayName,
		PropertyDefinitions: make(map[string]BrowserPropertyDefinition, len(td.PropertyDefinitions)),
	}
	for id, pd := range td.PropertyDefinitions {
		card := "single"
		if pd.MultiValued {
			card = "multi"
		}
		out.PropertyDefinitions[id] = BrowserPropertyDefinition{
			ID:           pd.ID,
			DisplayName:  pd.DisplayName,
			Updatability: string(pd.Updatability),
			Cardinality:  card,
		}
	}
	return out
}

// ObjectFromSuccinct decodes the typed fields of an object from its succinct
// properties. Every property is also kept in Properties.
func ObjectFromSuccinct(props map[string]any) *Object {
	obj := &Object{
		ID:                    stringProp(props, PropObjectID),
		Name:                  stringProp(props, PropName),
		Kind:                  KindFromBaseType(stringProp(props, PropBaseTypeID)),
		TypeID:                stringProp(props, PropObjectTypeID),
		ParentID:              stringProp(props, PropParentID),
		Path:                  stringProp(props, PropPath),
		ModTime:               timeProp(props, PropLastModificationDate),
		ChangeToken:           stringProp(props, PropChangeToken),
		ContentLength:         -1,
		ContentStreamFileName: stringProp(props, PropContentStreamFileName),
		ContentMimeType:       stringProp(props, PropContentStreamMimeType),
		Properties:            make(map[string]Property, len(props)),
	}
	if v, ok := props[PropContentStreamLength]; ok && v != nil {
		if n, ok := toInt64(v); ok {
			obj.ContentLength = n
		}
	}
	for id, v := range props {
		obj.Properties[id] = propertyFromValue(id, v)
	}
	return obj
}

// SuccinctProperties encodes obj as succinct properties. Typed fields win
// over entries of Properties with the same id.
func (o *Object) SuccinctProperties() map[string]any {
	props := PropertiesToSuccinct(o.Properties)

	props[PropObjectID] = o.ID
	props[PropName] = o.Name
	props[PropObjectTypeID] = o.TypeID
	switch o.Kind {
	case KindFolder:
		props[PropBaseTypeID] = TypeFolder
		props[PropPath] = o.Path
		props[PropParentID] = nilIfEmpty(o.ParentID)
	case KindDocument:
		props[PropBaseTypeID] = TypeDocument
		if o.ContentLength >= 0 {
			props[PropContentStreamLength] = o.ContentLength
			props[PropContentStreamFileName] = nilIfEmpty(o.ContentStreamFileName)
			props[PropContentStreamMimeType] = nilIfEmpty(o.ContentMimeType)
		} else {
			props[PropContentStreamLength] = nil
		}
	}
	if !o.ModTime.IsZero() {
		props[PropLastModificationDate] = o.ModTime.UnixMilli()
	}
	if o.ChangeToken != "" {
		props[PropChangeToken] = o.ChangeToken
	}
	return props
}

func ObjectToBrowser(o *Object) BrowserObject {
	return BrowserObject{SuccinctProperties: o.SuccinctProperties()}
}

// FormatValue renders one property value as a string. Dates are RFC3339 in UTC.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func propertyFromValue(id string, v any) Property {
	if list, ok := v.([]any); ok {
		return Property{ID: id, Values: list, MultiValued: true}
	}
	if v == nil {
		return Property{ID: id}
	}
	return Property{ID: id, Values: []any{v}}
}

func stringProp(props map[string]any, id string) string {
	if s, ok := props[id].(string); ok {
		return s
	}
	return ""
}

// timeProp decodes a dateTime property sent as milliseconds since the epoch
func timeProp(props map[string]any, id string) time.Time {
	v, ok := props[id]
	if !ok || v == nil {
		return time.Time{}
	}
	if ms, ok := toInt64(v); ok {
		return time.UnixMilli(ms).UTC()
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PropertiesToSuccinct flattens properties into succinct form
func PropertiesToSuccinct(props map[string]Property) map[string]any {
	out := make(map[string]any, len(props))
	for id, p := range props {
		switch {
		case p.MultiValued:
			out[id] = p.Values
		case len(p.Values) > 0:
			out[id] = p.Values[0]
		default:
			out[id] = nil
		}
	}
	return out
}
