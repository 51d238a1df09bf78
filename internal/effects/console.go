package effects

import (
	"net/http"

	"consolecore/internal/schema"
	"consolecore/pkg/domain"
)

// Console builds the request intents of the cloud console.
type Console struct {
	schemas *schema.Registry
}

// NewConsole returns request builders backed by the given schemas.
func NewConsole(schemas *schema.Registry) Console {
	return Console{schemas: schemas}
}

func (c Console) entity(key domain.EntityKey) *schema.Entity {
	return c.schemas.MustLookup(key)
}

// GetApplication fetches one application with its space, stack and routes.
func (c Console) GetApplication(guid, endpoint string) Request {
	return NewRequest(c.entity(domain.EntityApplication), http.MethodGet, "apps/"+guid,
		WithGUID(guid),
		WithEndpoints(endpoint),
		WithParam("inline-relations-depth", "2"),
		WithParam("include-relations", "space,organization,stack,routes"),
	)
}

// GetAllApplications fills the named pagination section with applications.
func (c Console) GetAllApplications(paginationKey string) Request {
	return NewRequest(c.entity(domain.EntityApplication), http.MethodGet, "apps",
		WithPagination(paginationKey),
		WithParam("inline-relations-depth", "2"),
		WithParam("include-relations", "space,organization,stack,routes"),
	)
}

// CreateApplication creates an application. guid is the temporary id the
// creation is tracked under.
func (c Console) CreateApplication(guid, endpoint string, body map[string]any) Request {
	return NewRequest(c.entity(domain.EntityApplication), http.MethodPost, "apps",
		WithGUID(guid),
		WithEndpoints(endpoint),
		WithJSONBody(body),
	)
}

// UpdateApplication updates an application. A non-empty updatingKey tracks the
// update separately from other updates of the same application.
func (c Console) UpdateApplication(guid, endpoint string, body map[string]any, updatingKey string) Request {
	return NewRequest(c.entity(domain.EntityApplication), http.MethodPut, "apps/"+guid,
		WithGUID(guid),
		WithEndpoints(endpoint),
		WithJSONBody(body),
		WithUpdatingKey(updatingKey),
	)
}

// DeleteApplication deletes an application and its routes.
func (c Console) DeleteApplication(guid, endpoint string) Request {
	return NewRequest(c.entity(domain.EntityApplication), http.MethodDelete, "apps/"+guid,
		WithGUID(guid),
		WithEndpoints(endpoint),
		WithParam("recursive", "true"),
		WithParam("async", "false"),
	)
}

// GetAppSummary fetches the summary of an application.
func (c Console) GetAppSummary(guid, endpoint string) Request {
	return c.appSubresource(domain.EntityAppSummary, guid, endpoint, "summary")
}

// GetAppStats fetches per-instance stats of an application.
func (c Console) GetAppStats(guid, endpoint string) Request {
	return c.appSubresource(domain.EntityAppStats, guid, endpoint, "stats")
}

// GetAppEnvVars fetches the environment of an application.
func (c Console) GetAppEnvVars(guid, endpoint string) Request {
	return c.appSubresource(domain.EntityAppEnvVars, guid, endpoint, "env")
}

func (c Console) appSubresource(key domain.EntityKey, guid, endpoint, sub string) Request {
	return NewRequest(c.entity(key), http.MethodGet, "apps/"+guid+"/"+sub,
		WithGUID(guid),
		WithEndpoints(endpoint),
		WithShape(ShapeRaw),
	)
}

// GetSpace fetches one space with its organization.
func (c Console) GetSpace(guid, endpoint string) Request {
	return NewRequest(c.entity(domain.EntitySpace), http.MethodGet, "spaces/"+guid,
		WithGUID(guid),
		WithEndpoints(endpoint),
		WithParam("inline-relations-depth", "1"),
	)
}

// GetOrganization fetches one organization.
func (c Console) GetOrganization(guid, endpoint string) Request {
	return NewRequest(c.entity(domain.EntityOrganization), http.MethodGet, "organizations/"+guid,
		WithGUID(guid),
		WithEndpoints(endpoint),
	)
}

// GetAllOrganizations fills the named pagination section with organizations.
func (c Console) GetAllOrganizations(paginationKey string) Request {
	return NewRequest(c.entity(domain.EntityOrganization), http.MethodGet, "organizations",
		WithPagination(paginationKey),
	)
}

// GetAppRoutes fills the named pagination section with the routes of an
// application.
func (c Console) GetAppRoutes(appGUID, endpoint, paginationKey string) Request {
	return NewRequest(c.entity(domain.EntityRoute), http.MethodGet, "apps/"+appGUID+"/routes",
		WithEndpoints(endpoint),
		WithPagination(paginationKey),
		WithParam("inline-relations-depth", "1"),
	)
}

// GetAppEvents fills the named pagination section with audit events about
// an application, newest first.
func (c Console) GetAppEvents(appGUID, endpoint, paginationKey string) Request {
	return NewRequest(c.entity(domain.EntityEvent), http.MethodGet, "events",
		WithEndpoints(endpoint),
		WithPagination(paginationKey),
		WithParam("order-direction", "desc"),
		WithParam("q", domain.NewQParam("actee", appGUID).String()),
	)
}

// RegisterFollowUps wires the console's chained requests: a successful
// application update refetches the application environment.
func (c Console) RegisterFollowUps(p *Pipeline) {
	p.OnSuccess(domain.EntityApplication, domain.OpUpdate, func(req Request, _ Outcome) []Request {
		var endpoint string
		if eps := req.Endpoints(); len(eps) > 0 {
			endpoint = eps[0]
		}
		return []Request{c.GetAppEnvVars(req.GUID(), endpoint)}
	})
}
