package store

import "consolecore/pkg/domain"

func requestInfo(t RequestTables, key domain.EntityKey, id string) domain.RequestInfo {
	if info, ok := t[key][id]; ok {
		return info.Clone()
	}
	return domain.DefaultRequestInfo()
}

func withRequest(t RequestTables, key domain.EntityKey, id string, info domain.RequestInfo) RequestTables {
	out := make(RequestTables, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	rows := make(map[string]domain.RequestInfo, len(t[key])+1)
	for k, v := range t[key] {
		rows[k] = v
	}
	rows[id] = info
	out[key] = rows
	return out
}

func startRequest(t RequestTables, req domain.RequestDescriptor) RequestTables {
	if req.GUID == "" {
		return t
	}
	info := requestInfo(t, req.Key, req.GUID)
	op, key := req.Tracked()
	switch op {
	case domain.OpFetch:
		info.Fetching = true
		info.Error = false
		info.Message = ""
	case domain.OpCreate:
		info.Creating = true
		info.Error = false
		info.Message = ""
	case domain.OpUpdate:
		info.Updating[key] = domain.ActionState{Busy: true}
	case domain.OpDelete:
		info.Deleting = domain.DeleteActionState{Busy: true}
	}
	return withRequest(t, req.Key, req.GUID, info)
}

func succeedRequest(t RequestTables, ev RequestSucceeded) RequestTables {
	t = resetReturned(t, ev.Response.Entities)
	req := ev.Request
	if req.GUID == "" {
		return t
	}
	info := requestInfo(t, req.Key, req.GUID)
	message := warningMessage(ev.Warnings)
	op, key := req.Tracked()
	switch op {
	case domain.OpFetch:
		info.Fetching = false
		info.Error = false
		info.Message = message
		info.Response = append([]string{}, ev.Response.Result...)
	case domain.OpCreate:
		info.Creating = false
		info.Error = false
		info.Message = message
		info.Response = append([]string{}, ev.Response.Result...)
	case domain.OpUpdate:
		info.Updating[key] = domain.ActionState{Message: message}
	case domain.OpDelete:
		info.Fetching = false
		info.Error = false
		info.Message = message
		info.Deleting = domain.DeleteActionState{Deleted: true}
	}
	return withRequest(t, req.Key, req.GUID, info)
}

func failRequest(t RequestTables, ev RequestFailed) RequestTables {
	req := ev.Request
	if req.GUID == "" {
		return t
	}
	info := requestInfo(t, req.Key, req.GUID)
	op, key := req.Tracked()
	switch op {
	case domain.OpFetch:
		info.Fetching = false
		info.Error = true
		info.Message = ev.Message
	case domain.OpCreate:
		info.Creating = false
		info.Error = true
		info.Message = ev.Message
	case domain.OpUpdate:
		info.Updating[key] = domain.ActionState{Error: true, Message: ev.Message}
	case domain.OpDelete:
		info.Message = ev.Message
		info.Deleting = domain.DeleteActionState{Error: true, Message: ev.Message}
	}
	return withRequest(t, req.Key, req.GUID, info)
}

// resetReturned marks every entity that came back as known good, whatever
// request loaded it. Each touched key gets one new row map.
func resetReturned(t RequestTables, entities domain.Tables) RequestTables {
	if entities.Count() == 0 {
		return t
	}
	out := make(RequestTables, len(t)+len(entities))
	for k, v := range t {
		out[k] = v
	}
	for key, returned := range entities {
		if len(returned) == 0 {
			continue
		}
		rows := make(map[string]domain.RequestInfo, len(t[key])+len(returned))
		for id, info := range t[key] {
			rows[id] = info
		}
		for id := range returned {
			info := requestInfo(t, key, id)
			info.Fetching = false
			info.Error = false
			info.Deleting = domain.DeleteActionState{}
			rows[id] = info
		}
		out[key] = rows
	}
	return out
}
