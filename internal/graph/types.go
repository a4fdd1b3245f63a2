package graph

import (
	"time"

	"github.com/tonimelisma/clipcloud/internal/storage"
)

// Item is a normalized OneDrive drive item.
type Item struct {
	ID           string
	Name         string
	ParentID     string
	ParentPath   string // "/drive/root:/Clips" form, stripped to "/Clips"
	Size         int64
	IsFolder     bool
	IsDeleted    bool
	QuickXorHash string // base64-encoded
	WebURL       string
	ModifiedAt   time.Time
}

// toMeta converts an Item into the provider-neutral metadata.
func (it *Item) toMeta() storage.ObjectMeta {
	meta := storage.ObjectMeta{
		ID:         it.ID,
		Name:       it.Name,
		ParentID:   it.ParentID,
		Size:       it.Size,
		Checksum:   it.QuickXorHash,
		WebURL:     it.WebURL,
		IsFolder:   it.IsFolder,
		ModifiedAt: it.ModifiedAt,
	}

	if it.ParentPath != "" {
		if it.ParentPath == "/" {
			meta.Path = "/" + it.Name
		} else {
			meta.Path = it.ParentPath + "/" + it.Name
		}
	}

	return meta
}

// User is the authenticated Graph user.
type User struct {
	ID          string
	DisplayName string
	Email       string
}
