package carrier

import "sort"

// Registry — реестр перевозчиков по carrierId. Заполняется при старте,
// дальше только читается, поэтому без блокировок.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(carrierID string, c Client) {
	r.clients[carrierID] = c
}

func (r *Registry) Get(carrierID string) (Client, bool) {
	c, ok := r.clients[carrierID]
	return c, ok
}

func (r *Registry) Known(carrierID string) bool {
	_, ok := r.clients[carrierID]
	return ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
