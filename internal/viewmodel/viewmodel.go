package viewmodel

// StatusPage holds data for the operator status page.
type StatusPage struct {
	Title        string
	GeneratedAt  string
	Buses        int
	ActiveBuses  int
	Alerts       int
	ActiveAlerts int
	SpeedAlerts  int
	Connections  int
	Delivered    int64
	Dropped      int64
	Channels     []ChannelCount
	Fleet        []BusRow
}

// ChannelCount is the number of subscribers of one channel.
type ChannelCount struct {
	Name        string
	Subscribers int
}

// BusRow is one bus line in the fleet table.
type BusRow struct {
	Number    string
	RouteName string
	Status    string
	Position  string
	Speed     string
	UpdatedAt string
}
