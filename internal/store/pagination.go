package store

import (
	"strconv"

	"consolecore/pkg/domain"
)

func (s State) defaultPagination() domain.PaginationState {
	p := domain.DefaultPaginationState()
	p.Params.Values[domain.ResultsPerPageParam] = strconv.Itoa(s.ResultsPerPage)
	return p
}

func (s State) section(key domain.EntityKey, pagKey string) domain.PaginationState {
	if p, ok := s.Pagination[key][pagKey]; ok {
		return p.Clone()
	}
	return s.defaultPagination()
}

func withPaginationKey(t PaginationTables, key domain.EntityKey, rows map[string]domain.PaginationState) PaginationTables {
	out := make(PaginationTables, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[key] = rows
	return out
}

func withSection(t PaginationTables, key domain.EntityKey, pagKey string, p domain.PaginationState) PaginationTables {
	rows := make(map[string]domain.PaginationState, len(t[key])+1)
	for k, v := range t[key] {
		rows[k] = v
	}
	rows[pagKey] = p
	return withPaginationKey(t, key, rows)
}

func startPage(s State, req domain.RequestDescriptor) PaginationTables {
	if !req.Paginated() {
		return s.Pagination
	}
	p := s.section(req.Key, req.PaginationKey)
	p.Fetching = true
	p.Error = false
	p.Message = ""
	return withSection(s.Pagination, req.Key, req.PaginationKey, p)
}

func succeedPage(s State, ev RequestSucceeded) PaginationTables {
	req := ev.Request
	if !req.Paginated() {
		return s.Pagination
	}
	p := s.section(req.Key, req.PaginationKey)
	page := req.Page
	if page <= 0 {
		page = p.CurrentPage
	}
	p.IDs[page] = append([]string{}, ev.Response.Result...)
	p.Fetching = false
	p.Error = false
	p.Message = warningMessage(ev.Warnings)
	p.TotalResults = ev.TotalResults
	if p.TotalResults == 0 {
		p.TotalResults = len(ev.Response.Result)
	}
	p.PageCount = ev.TotalPages
	if p.PageCount < len(p.IDs) {
		p.PageCount = len(p.IDs)
	}
	return withSection(s.Pagination, req.Key, req.PaginationKey, p)
}

func failPage(s State, ev RequestFailed) PaginationTables {
	req := ev.Request
	if !req.Paginated() {
		return s.Pagination
	}
	p := s.section(req.Key, req.PaginationKey)
	p.Fetching = false
	p.Error = true
	p.Message = ev.Message
	return withSection(s.Pagination, req.Key, req.PaginationKey, p)
}

func resetPages(p *domain.PaginationState) {
	p.IDs = map[int][]string{}
	p.PageCount = 0
	p.TotalResults = 0
	p.CurrentPage = 1
}

func clearPages(s State, ev PagesCleared) PaginationTables {
	p, ok := s.Pagination[ev.Key][ev.PaginationKey]
	if !ok {
		return s.Pagination
	}
	p = p.Clone()
	resetPages(&p)
	p.Fetching = false
	p.Error = false
	p.Message = ""
	return withSection(s.Pagination, ev.Key, ev.PaginationKey, p)
}

func setPage(s State, ev PageSet) PaginationTables {
	p := s.section(ev.Key, ev.PaginationKey)
	page := ev.Page
	if page < 1 {
		page = 1
	}
	p.CurrentPage = page
	p.Error = false
	return withSection(s.Pagination, ev.Key, ev.PaginationKey, p)
}

func setParams(s State, ev ParamsSet) PaginationTables {
	p := s.section(ev.Key, ev.PaginationKey)
	next := mergeParams(domain.Params{}, ev.Params)
	if _, ok := next.Values[domain.ResultsPerPageParam]; !ok {
		next.Values[domain.ResultsPerPageParam] = strconv.Itoa(s.ResultsPerPage)
	}
	return applyParams(s, ev.Key, ev.PaginationKey, p, next)
}

func addParams(s State, ev ParamsAdded) PaginationTables {
	p := s.section(ev.Key, ev.PaginationKey)
	return applyParams(s, ev.Key, ev.PaginationKey, p, mergeParams(p.Params, ev.Params))
}

func removeParams(s State, ev ParamsRemoved) PaginationTables {
	p := s.section(ev.Key, ev.PaginationKey)
	next := p.Params.Clone()
	for _, k := range ev.Params {
		delete(next.Values, k)
	}
	if len(ev.Q) > 0 {
		drop := make(map[string]bool, len(ev.Q))
		for _, k := range ev.Q {
			drop[k] = true
		}
		kept := next.Q[:0]
		for _, q := range next.Q {
			if !drop[q.Key] {
				kept = append(kept, q)
			}
		}
		next.Q = kept
		if len(next.Q) == 0 {
			next.Q = nil
		}
	}
	return applyParams(s, ev.Key, ev.PaginationKey, p, next)
}

func applyParams(s State, key domain.EntityKey, pagKey string, p domain.PaginationState, next domain.Params) PaginationTables {
	if !p.Params.Equal(next) {
		resetPages(&p)
	}
	p.Params = next
	return withSection(s.Pagination, key, pagKey, p)
}

// mergeParams overlays add onto base. The last value for a key wins, filters
// with an existing key are replaced in place, and empty values are pruned.
func mergeParams(base, add domain.Params) domain.Params {
	out := base.Clone()
	if out.Values == nil {
		out.Values = map[string]string{}
	}
	for k, v := range add.Values {
		if v == "" {
			delete(out.Values, k)
			continue
		}
		out.Values[k] = v
	}
	for _, q := range add.Q {
		idx := -1
		for i := range out.Q {
			if out.Q[i].Key == q.Key {
				idx = i
				break
			}
		}
		if idx >= 0 {
			out.Q[idx] = q.Clone()
		} else {
			out.Q = append(out.Q, q.Clone())
		}
	}
	kept := make([]domain.QParam, 0, len(out.Q))
	for _, q := range out.Q {
		if !q.Empty() {
			kept = append(kept, q)
		}
	}
	out.Q = nil
	if len(kept) > 0 {
		out.Q = kept
	}
	return out
}
