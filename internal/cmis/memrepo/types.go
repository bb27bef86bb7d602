package memrepo

import "github.com/openmined/cmissync/internal/cmis"

func defaultTypes() map[string]*cmis.TypeDefinition {
	common := []cmis.PropertyDefinition{
		{ID: cmis.PropObjectID, DisplayName: "Object Id", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropName, DisplayName: "Name", Updatability: cmis.UpdatabilityReadWrite},
		{ID: cmis.PropBaseTypeID, DisplayName: "Base Type Id", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropObjectTypeID, DisplayName: "Object Type Id", Updatability: cmis.UpdatabilityOnCreate},
		{ID: cmis.PropCreatedBy, DisplayName: "Created By", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropCreationDate, DisplayName: "Creation Date", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropLastModifiedBy, DisplayName: "Last Modified By", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropLastModificationDate, DisplayName: "Last Modification Date", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropChangeToken, DisplayName: "Change Token", Updatability: cmis.UpdatabilityReadOnly},
	}
	document := append([]cmis.PropertyDefinition{
		{ID: cmis.PropContentStreamLength, DisplayName: "Content Stream Length", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropContentStreamFileName, DisplayName: "Content Stream File Name", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropContentStreamMimeType, DisplayName: "Content Stream MIME Type", Updatability: cmis.UpdatabilityReadOnly},
		{ID: "cmis:versionLabel", DisplayName: "Version Label", Updatability: cmis.UpdatabilityReadOnly},
	}, common...)
	folder := append([]cmis.PropertyDefinition{
		{ID: cmis.PropPath, DisplayName: "Path", Updatability: cmis.UpdatabilityReadOnly},
		{ID: cmis.PropParentID, DisplayName: "Parent Id", Updatability: cmis.UpdatabilityReadOnly},
	}, common...)

	return map[string]*cmis.TypeDefinition{
		cmis.TypeDocument: newType(cmis.TypeDocument, cmis.TypeDocument, "Document", document),
		cmis.TypeFolder:   newType(cmis.TypeFolder, cmis.TypeFolder, "Folder", folder),
	}
}

func newType(id, baseID, displayName string, defs []cmis.PropertyDefinition) *cmis.TypeDefinition {
	td := &cmis.TypeDefinition{
		ID:                  id,
		BaseID:              baseID,
		DisplayName:         displayName,
		PropertyDefinitions: make(map[string]cmis.PropertyDefinition, len(defs)),
	}
	for _, d := range defs {
		td.PropertyDefinitions[d.ID] = d
	}
	return td
}
