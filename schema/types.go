// Package schema declares collection topologies and orchestrates their
// one-time bootstrap (collection + index creation, seed documents) across
// concurrent processes, on top of the retrying executor.
package schema

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/docdb"
)

// Index describes one collection index. Keys is ordered.
type Index struct {
	Keys   bson.D
	Name   string
	Unique bool
}

// model converts the index into the docdb shape.
func (i Index) model() docdb.IndexModel {
	return docdb.IndexModel{Keys: i.Keys, Name: i.Name, Unique: i.Unique}
}

// Document is a seed document together with the key that identifies it,
// so re-bootstrapping never inserts it twice.
type Document struct {
	UniqueKey bson.M
	Data      bson.M
}

// CollectionDefinition declares one collection: its name, indices and
// seed documents.
type CollectionDefinition struct {
	Name        string
	Indices     []Index
	DefaultDocs []Document
}

// FillIndexNames derives missing index names from the uniqueness flag,
// collection name and field list. Mutates the definition in place.
func (d *CollectionDefinition) FillIndexNames() {
	for n := range d.Indices {
		if d.Indices[n].Name != "" {
			continue
		}
		prefix := "ix"
		if d.Indices[n].Unique {
			prefix = "ux"
		}
		fields := make([]string, 0, len(d.Indices[n].Keys))
		for _, key := range d.Indices[n].Keys {
			fields = append(fields, key.Key)
		}
		d.Indices[n].Name = prefix + "__" + d.Name + "__" + strings.Join(fields, "_")
	}
}
