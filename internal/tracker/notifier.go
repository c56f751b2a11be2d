package tracker

// Status 为对外显示的连接状态
type Status string

const (
	StatusSearching Status = "searching"
	StatusFailed    Status = "failed"
)

// Notifier 接收协调器发出的对外通知。
// 所有方法都在协调器的事件协程中调用，实现不能阻塞。
type Notifier interface {
	TrackerConnected(name string)
	TrackerDisconnected(name string)
	TrackerData(ev DataEvent)
	TrackerBattery(name string, percent, volts float64)
	TrackerMag(name, status string)
	ConnectionStatus(status Status)
	ServerConnected(ip string, port int)
	UserError(kind ErrorKind, msg string)
}
