package main

import (
	"encoding/json"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/schema"
)

// topologyFile is the JSON shape of a bootstrap topology definition.
type topologyFile struct {
	Collections []struct {
		Name    string `json:"name"`
		Indices []struct {
			Fields []string `json:"fields"`
			Name   string   `json:"name,omitempty"`
			Unique bool     `json:"unique,omitempty"`
		} `json:"indices,omitempty"`
		DefaultDocs []struct {
			UniqueKey map[string]interface{} `json:"uniqueKey"`
			Data      map[string]interface{} `json:"data"`
		} `json:"defaultDocs,omitempty"`
	} `json:"collections"`
}

// loadTopology reads collection definitions from a JSON file. Index keys
// are listed as field names and indexed in ascending order.
func loadTopology(path string) ([]schema.CollectionDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read topology file: %w", err)
	}

	var file topologyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("cannot parse topology file %s: %w", path, err)
	}
	if len(file.Collections) == 0 {
		return nil, fmt.Errorf("topology file %s defines no collections", path)
	}

	topology := make([]schema.CollectionDefinition, 0, len(file.Collections))
	for _, coll := range file.Collections {
		if coll.Name == "" {
			return nil, fmt.Errorf("topology file %s has a collection without a name", path)
		}
		definition := schema.CollectionDefinition{Name: coll.Name}
		for _, index := range coll.Indices {
			if len(index.Fields) == 0 {
				return nil, fmt.Errorf("collection %q has an index without fields", coll.Name)
			}
			keys := make(bson.D, 0, len(index.Fields))
			for _, field := range index.Fields {
				keys = append(keys, bson.E{Key: field, Value: 1})
			}
			definition.Indices = append(definition.Indices, schema.Index{
				Keys:   keys,
				Name:   index.Name,
				Unique: index.Unique,
			})
		}
		for _, doc := range coll.DefaultDocs {
			definition.DefaultDocs = append(definition.DefaultDocs, schema.Document{
				UniqueKey: bson.M(doc.UniqueKey),
				Data:      bson.M(doc.Data),
			})
		}
		topology = append(topology, definition)
	}
	return topology, nil
}
