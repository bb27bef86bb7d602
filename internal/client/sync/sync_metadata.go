package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/cmissync/internal/cmis"
)

// fetchMetadata converts the properties of obj into cache metadata, using
// the property definitions of its type
func (f *SynchronizedFolder) fetchMetadata(ctx context.Context, obj *cmis.Object) (Metadata, error) {
	td, err := f.typeDefinition(ctx, obj.TypeID)
	if err != nil {
		return nil, err
	}

	metadata := make(Metadata, len(obj.Properties))
	for id, prop := range obj.Properties {
		entry := PropertyMetadata{
			DisplayName:  id,
			Updatability: cmis.UpdatabilityReadOnly,
			MultiValued:  prop.MultiValued,
			Values:       make([]string, 0, len(prop.Values)),
		}
		if def, ok := td.PropertyDefinitions[id]; ok {
			if def.DisplayName != "" {
				entry.DisplayName = def.DisplayName
			}
			if def.Updatability != "" {
				entry.Updatability = def.Updatability
			}
			entry.MultiValued = def.MultiValued || prop.MultiValued
		}
		for _, v := range prop.Values {
			entry.Values = append(entry.Values, cmis.FormatValue(v))
		}
		metadata[id] = entry
	}
	return metadata, nil
}

func (f *SynchronizedFolder) typeDefinition(ctx context.Context, typeID string) (*cmis.TypeDefinition, error) {
	if typeID == "" {
		return &cmis.TypeDefinition{}, nil
	}
	if td, ok := f.types.Get(typeID); ok {
		return td, nil
	}

	td, err := f.session.GetTypeDefinition(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get type definition %s: %w", typeID, err)
	}
	f.types.Add(typeID, td)
	slog.Debug("type definition cached", "type", typeID, "properties", len(td.PropertyDefinitions))
	return td, nil
}
