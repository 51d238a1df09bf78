package store

import "consolecore/pkg/domain"

func succeedEntities(tables domain.Tables, ev RequestSucceeded) domain.Tables {
	if len(ev.Response.Entities) > 0 {
		tables = domain.MergeTables(tables, ev.Response.Entities)
	}
	if op, _ := ev.Request.Tracked(); op == domain.OpDelete {
		tables = removeEntity(tables, ev.Request.Key, ev.Request.GUID)
	}
	return tables
}

func removeEntity(tables domain.Tables, key domain.EntityKey, id string) domain.Tables {
	rows, ok := tables[key]
	if !ok {
		return tables
	}
	if _, ok := rows[id]; !ok {
		return tables
	}
	next := make(map[string]domain.Attributes, len(rows))
	for k, v := range rows {
		if k != id {
			next[k] = v
		}
	}
	out := make(domain.Tables, len(tables))
	for k, v := range tables {
		out[k] = v
	}
	out[key] = next
	return out
}
