package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// force the portal's timezone (Frisco ISD is in Texas) regardless of
// where this process runs, otherwise snapshot days shift when the host
// ends up in another region
func Now() time.Time {
	return time.Now().In(Location)
}
