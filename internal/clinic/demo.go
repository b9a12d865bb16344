package clinic

// DemoSessionID is the session used by the scripted demo.
const DemoSessionID = "demo-session"

// DemoMessages is a scripted conversation that walks every stage and
// pauses once for lab results. The pipeline completes on the last
// message.
var DemoMessages = []string{
	"Patient P-1042 Jane Doe is here with shortness of breath",
	"Symptoms began 2 days ago",
	"A chest X-ray was ordered and the results are pending",
	"The X-ray results came back clear",
}
