package domain

import (
	"sort"
	"strings"
)

// ResultsPerPageParam is the query parameter carrying the page size.
const ResultsPerPageParam = "results-per-page"

// PageParam is the query parameter carrying the requested page number.
const PageParam = "page"

// DefaultResultsPerPage is used when neither the request nor the pagination
// section sets a page size.
const DefaultResultsPerPage = 5

// DefaultQJoiner separates a filter key from its values.
const DefaultQJoiner = ":"

// QParam is a single filter expression rendered as key+joiner+values.
type QParam struct {
	Key    string   `json:"key"`
	Value  []string `json:"value"`
	Joiner string   `json:"joiner,omitempty"`
}

// NewQParam builds a filter with the default joiner.
func NewQParam(key string, values ...string) QParam {
	return QParam{Key: key, Value: values, Joiner: DefaultQJoiner}
}

func (q QParam) String() string {
	joiner := q.Joiner
	if joiner == "" {
		joiner = DefaultQJoiner
	}
	return q.Key + joiner + strings.Join(q.Value, ",")
}

// Empty reports whether the filter carries no usable value.
func (q QParam) Empty() bool {
	if q.Key == "" {
		return true
	}
	for _, v := range q.Value {
		if v != "" {
			return false
		}
	}
	return true
}

// Clone returns a copy with its own value slice.
func (q QParam) Clone() QParam {
	q.Value = append([]string(nil), q.Value...)
	return q
}

// Params is the filter set of a pagination section.
type Params struct {
	Values map[string]string `json:"values,omitempty"`
	Q      []QParam          `json:"q,omitempty"`
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := Params{}
	if p.Values != nil {
		out.Values = make(map[string]string, len(p.Values))
		for k, v := range p.Values {
			out.Values[k] = v
		}
	}
	for _, q := range p.Q {
		out.Q = append(out.Q, q.Clone())
	}
	return out
}

// Get returns a plain parameter value.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.Values[key]
	return v, ok
}

// Equal reports whether both sets carry the same values and filters in the
// same order.
func (p Params) Equal(o Params) bool {
	if len(p.Values) != len(o.Values) || len(p.Q) != len(o.Q) {
		return false
	}
	for k, v := range p.Values {
		if ov, ok := o.Values[k]; !ok || ov != v {
			return false
		}
	}
	for i := range p.Q {
		if p.Q[i].String() != o.Q[i].String() {
			return false
		}
	}
	return true
}

// Keys returns the plain parameter names in lexical order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p.Values))
	for k := range p.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PaginationState is the record kept per (entity key, pagination key).
type PaginationState struct {
	CurrentPage  int              `json:"currentPage"`
	PageCount    int              `json:"pageCount"`
	TotalResults int              `json:"totalResults"`
	IDs          map[int][]string `json:"ids"`
	Params       Params           `json:"params"`
	Fetching     bool             `json:"fetching"`
	Error        bool             `json:"error"`
	Message      string           `json:"message"`
}

// DefaultPaginationState returns a fresh section on page one with the default
// page size.
func DefaultPaginationState() PaginationState {
	return PaginationState{
		CurrentPage: 1,
		IDs:         map[int][]string{},
		Params: Params{Values: map[string]string{
			ResultsPerPageParam: itoa(DefaultResultsPerPage),
		}},
	}
}

// Clone returns a deep copy.
func (p PaginationState) Clone() PaginationState {
	out := p
	out.IDs = make(map[int][]string, len(p.IDs))
	for page, ids := range p.IDs {
		out.IDs[page] = append([]string(nil), ids...)
	}
	out.Params = p.Params.Clone()
	return out
}

// Page returns the cached ids of the given page.
func (p PaginationState) Page(n int) ([]string, bool) {
	ids, ok := p.IDs[n]
	return ids, ok
}

// HasCurrentPage reports whether the current page has been fetched.
func (p PaginationState) HasCurrentPage() bool {
	_, ok := p.IDs[p.CurrentPage]
	return ok
}
