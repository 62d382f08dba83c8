// Package roster keeps the ordered participant list and projects it into
// render-ready tiles.
package roster

// SelfKey is the speaking-map key for the local participant.
const SelfKey = "self"

// Participant is one room member as the session knows them.
type Participant struct {
	UserID      string
	UserName    string
	UserRole    string
	IsMuted     bool
	IsCameraOff bool
}

// Roster holds at most one Participant per user id, in join order.
type Roster struct {
	order []string
	byID  map[string]Participant
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{byID: make(map[string]Participant)}
}

// Upsert adds p or, if the id is known, replaces its record in place. It
// reports whether p was new.
func (r *Roster) Upsert(p Participant) bool {
	if _, ok := r.byID[p.UserID]; ok {
		r.byID[p.UserID] = p
		return false
	}
	r.order = append(r.order, p.UserID)
	r.byID[p.UserID] = p
	return true
}

// Remove drops id and reports whether it was present.
func (r *Roster) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the participant with id.
func (r *Roster) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Update applies fn to the participant with id, if present.
func (r *Roster) Update(id string, fn func(*Participant)) bool {
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(&p)
	r.byID[id] = p
	return true
}

// Len returns the number of participants.
func (r *Roster) Len() int { return len(r.order) }

// List returns a copy in join order.
func (r *Roster) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Tile is one participant as rendered.
type Tile struct {
	Participant
	IsSelf     bool
	IsSpeaking bool
	IsSharing  bool
}

// Project orders participants for display, self first then join order,
// and merges the speaking and sharing flags. Self's speaking flag is read
// from SelfKey.
func Project(participants []Participant, selfID string, speaking map[string]bool, sharerID string) []Tile {
	tiles := make([]Tile, 0, len(participants))
	for _, p := range participants {
		if p.UserID != selfID {
			continue
		}
		tiles = append(tiles, Tile{
			Participant: p,
			IsSelf:      true,
			IsSpeaking:  speaking[SelfKey] || speaking[selfID],
			IsSharing:   sharerID != "" && sharerID == selfID,
		})
		break
	}
	for _, p := range participants {
		if p.UserID == selfID {
			continue
		}
		tiles = append(tiles, Tile{
			Participant: p,
			IsSpeaking:  speaking[p.UserID],
			IsSharing:   sharerID != "" && sharerID == p.UserID,
		})
	}
	return tiles
}
