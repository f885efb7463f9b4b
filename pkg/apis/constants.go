package apis

const (
	// HTTP Response Fields
	Location = "Location"

	// Self-defined Fields
	Area   = "area"
	Filter = "filter"
	Sort   = "sort"
	From   = "from"
	To     = "to"
)
