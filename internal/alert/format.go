package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mip-automation/silomon/internal/store"
)

func formatValue(v *uint16) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}

func formatPercent(p *int) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *p)
}

// FormatOffline renders the alert for a device that exceeded the offline
// threshold.
func FormatOffline(slaveID uint8, st store.DeviceStatus, now time.Time) string {
	lastOK := st.LastOK
	if lastOK == "" {
		lastOK = "never"
	}
	lastErr := st.LastError
	if lastErr == "" {
		lastErr = "communication timeout"
	}
	return strings.Join([]string{
		"🔴 <b>ALERT - DEVICE OFFLINE</b>",
		"",
		fmt.Sprintf("🆔 <b>Slave ID:</b> %d", slaveID),
		fmt.Sprintf("📅 <b>Timestamp:</b> %s", now.Format(store.TimeFormat)),
		fmt.Sprintf("⏰ <b>Last OK:</b> %s", lastOK),
		fmt.Sprintf("❌ <b>Error:</b> %s", lastErr),
		"",
		"⚠️ Check the device connection",
	}, "\n")
}

// FormatRecovery renders the notification for a device back online.
func FormatRecovery(slaveID uint8, st store.DeviceStatus, now time.Time) string {
	return strings.Join([]string{
		"🟢 <b>RECOVERY - DEVICE ONLINE</b>",
		"",
		fmt.Sprintf("🆔 <b>Slave ID:</b> %d", slaveID),
		fmt.Sprintf("📅 <b>Timestamp:</b> %s", now.Format(store.TimeFormat)),
		fmt.Sprintf("📊 <b>Value:</b> %s", formatValue(st.Value)),
		fmt.Sprintf("📈 <b>Percent:</b> %s%%", formatPercent(st.Percent)),
		"",
		"✅ Communication restored",
	}, "\n")
}

// FormatStartup renders the one-off message sent when the engine comes up.
func FormatStartup(totalSlaves int, now time.Time) string {
	return strings.Join([]string{
		"🚀 <b>SILO MONITORING STARTED</b>",
		"",
		fmt.Sprintf("📅 <b>Timestamp:</b> %s", now.Format(store.TimeFormat)),
		"🛰️ <b>System:</b> Modbus RTU monitor",
		fmt.Sprintf("📊 <b>Slaves:</b> %d devices", totalSlaves),
		"⚙️ <b>Status:</b> operational",
		"",
		"ℹ️ Alerting active",
	}, "\n")
}

// FormatCritical renders an operator-attention message.
func FormatCritical(message string, now time.Time) string {
	return strings.Join([]string{
		"🚨 <b>CRITICAL ALERT</b>",
		"",
		fmt.Sprintf("📅 <b>Timestamp:</b> %s", now.Format(store.TimeFormat)),
		fmt.Sprintf("⚠️ <b>Message:</b> %s", message),
		"",
		"🔧 Intervention required",
	}, "\n")
}

// FormatTest renders the synthetic message used by the test endpoint.
func FormatTest(now time.Time) string {
	return strings.Join([]string{
		"🧪 <b>ALERT SYSTEM TEST</b>",
		"",
		fmt.Sprintf("📅 <b>Timestamp:</b> %s", now.Format(store.TimeFormat)),
		"🤖 <b>Bot:</b> working",
		"📱 <b>Chat:</b> connected",
		"",
		"✅ Alert system operational",
	}, "\n")
}

// FormatDailyReport renders the operations summary. Nothing schedules it;
// it exists for the transport's report surface.
func FormatDailyReport(stats store.Stats, snap map[uint8]store.DeviceStatus, now time.Time) string {
	var offline []int
	for id, st := range snap {
		if !st.Online {
			offline = append(offline, int(id))
		}
	}
	sort.Ints(offline)
	offlineList := "none"
	if len(offline) > 0 {
		parts := make([]string, len(offline))
		for i, id := range offline {
			parts[i] = fmt.Sprintf("%d", id)
		}
		offlineList = strings.Join(parts, ", ")
	}
	return strings.Join([]string{
		"📊 <b>DAILY SILO REPORT</b>",
		"",
		fmt.Sprintf("📅 <b>Date:</b> %s", now.Format(store.TimeFormat)),
		fmt.Sprintf("⏱️ <b>Uptime:</b> %.1f hours", stats.UptimeSeconds/3600),
		"",
		"📈 <b>DEVICE STATE</b>",
		fmt.Sprintf("• Online: %d/%d", stats.OnlineSlaves, stats.TotalSlaves),
		fmt.Sprintf("• Offline: %s", offlineList),
		"",
		"📋 <b>STATISTICS</b>",
		fmt.Sprintf("• Total reads: %d", stats.TotalReads),
		fmt.Sprintf("• Total errors: %d", stats.TotalErrors),
		"",
		"🔧 System operational",
	}, "\n")
}
