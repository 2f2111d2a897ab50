package session

import (
	"time"
)

// DocumentOverview summarizes one document for diagnostics.
type DocumentOverview struct {
	Users     int       `json:"users"`
	UserNames []string  `json:"userNames"`
	Locks     int       `json:"locks"`
	Filled    int       `json:"filledCells"`
	Created   time.Time `json:"created"`
}

// Overview is a point-in-time view of every document and participant. It
// is not a consistent snapshot across documents.
type Overview struct {
	TotalSessions int                         `json:"totalSessions"`
	TotalUsers    int                         `json:"totalUsers"`
	Sessions      map[string]DocumentOverview `json:"sessions"`
}

// Overview reports the documents held in memory and who is attached to
// them.
func (c *Coordinator) Overview() Overview {
	docs := c.docs.List()
	out := Overview{
		TotalSessions: len(docs),
		TotalUsers:    c.presence.Len(),
		Sessions:      make(map[string]DocumentOverview, len(docs)),
	}
	for _, d := range docs {
		info := d.Info()
		roster := c.presence.Participants(d.ID)
		names := make([]string, len(roster))
		for i, p := range roster {
			names[i] = p.Name
		}
		out.Sessions[d.ID] = DocumentOverview{
			Users:     len(roster),
			UserNames: names,
			Locks:     info.Locks,
			Filled:    info.Filled,
			Created:   info.Created,
		}
	}
	return out
}
