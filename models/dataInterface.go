package models

type Identifier interface {
	GetId() string
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(string) Data
}

// key
func (p UserProfile) GetId() string {
	return p.ID
}

// Profiles removed after a report was filed still resolve to their id.
func (p UserProfile) GetDefault(id string) Data {
	return UserProfile{ID: id}
}

func (o Operator) GetId() string {
	return o.ID
}

func (o Operator) GetDefault(id string) Data {
	return Operator{ID: id, EmployeeId: id}
}
