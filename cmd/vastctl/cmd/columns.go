package cmd

import (
	"time"

	"github.com/vastctl/vastctl/internal/output"
)

var offerColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "cuda_max_good", Header: "CUDA", Format: "%.1f"},
	{Key: "num_gpus", Header: "N"},
	{Key: "gpu_name", Header: "Model", Left: true},
	{Key: "pcie_bw", Header: "PCIE", Format: "%.1f"},
	{Key: "cpu_ghz", Header: "cpu_ghz", Format: "%.1f"},
	{Key: "cpu_cores_effective", Header: "vCPUs", Format: "%.1f"},
	{Key: "cpu_ram", Header: "RAM", Format: "%.1f", Conv: output.MBToGB},
	{Key: "disk_space", Header: "Disk", Format: "%.0f"},
	{Key: "dph_total", Header: "$/hr", Format: "%.4f"},
	{Key: "dlperf", Header: "DLP", Format: "%.1f"},
	{Key: "dlperf_per_dphtotal", Header: "DLP/$", Format: "%.2f"},
	{Key: "score", Header: "score", Format: "%.1f"},
	{Key: "driver_version", Header: "NV Driver", Left: true},
	{Key: "inet_up", Header: "Net_up", Format: "%.1f"},
	{Key: "inet_down", Header: "Net_down", Format: "%.1f"},
	{Key: "reliability2", Header: "R", Format: "%.1f", Conv: output.Percent},
	{Key: "duration", Header: "Max_Days", Format: "%.1f", Conv: output.Scale(1.0 / 86400)},
	{Key: "machine_id", Header: "mach_id"},
	{Key: "verification", Header: "status", Left: true},
	{Key: "host_id", Header: "host_id"},
	{Key: "direct_port_count", Header: "ports"},
	{Key: "geolocation", Header: "country", Left: true, Max: 24},
}

func instanceColumns(now time.Time) []output.Column {
	return []output.Column{
		{Key: "id", Header: "ID"},
		{Key: "machine_id", Header: "Machine"},
		{Key: "actual_status", Header: "Status", Left: true},
		{Key: "num_gpus", Header: "Num"},
		{Key: "gpu_name", Header: "Model", Left: true},
		{Key: "gpu_util", Header: "Util. %", Format: "%.1f"},
		{Key: "cpu_cores_effective", Header: "vCPUs", Format: "%.1f"},
		{Key: "cpu_ram", Header: "RAM", Format: "%.1f", Conv: output.MBToGB},
		{Key: "disk_space", Header: "Storage", Format: "%.0f"},
		{Key: "ssh_host", Header: "SSH Addr", Left: true},
		{Key: "ssh_port", Header: "SSH Port"},
		{Key: "dph_total", Header: "$/hr", Format: "%.4f"},
		{Key: "image_uuid", Header: "Image", Left: true, Max: 40},
		{Key: "inet_up", Header: "Net up", Format: "%.1f"},
		{Key: "inet_down", Header: "Net down", Format: "%.1f"},
		{Key: "reliability2", Header: "R", Format: "%.1f", Conv: output.Percent},
		{Key: "label", Header: "Label", Left: true, Max: 30},
		{Key: "start_date", Header: "age(hours)", Format: "%.2f", Conv: output.Age(now)},
	}
}

var machineColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "num_gpus", Header: "#gpus"},
	{Key: "gpu_name", Header: "gpu_name", Left: true},
	{Key: "disk_space", Header: "disk", Format: "%.0f"},
	{Key: "hostname", Header: "hostname", Left: true, Max: 16},
	{Key: "driver_version", Header: "driver", Left: true},
	{Key: "reliability2", Header: "reliab", Format: "%.1f", Conv: output.Percent},
	{Key: "verification", Header: "veri", Left: true},
	{Key: "public_ipaddr", Header: "IP", Left: true},
	{Key: "geolocation", Header: "geoloc", Left: true, Max: 20},
	{Key: "num_reports", Header: "reports"},
	{Key: "listed_gpu_cost", Header: "listed_gpu_cost", Format: "%.3f"},
	{Key: "min_bid_price", Header: "min_bid", Format: "%.3f"},
	{Key: "current_rentals_running", Header: "running"},
	{Key: "end_date", Header: "end_date", Conv: output.Date},
}

var maintenanceColumns = []output.Column{
	{Key: "machine_id", Header: "Machine"},
	{Key: "start_time", Header: "Start", Conv: output.Epoch},
	{Key: "end_time", Header: "End", Conv: output.Epoch},
	{Key: "duration_hours", Header: "Hours", Format: "%.1f"},
	{Key: "maintenance_category", Header: "Category", Left: true},
}

var reportColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "problem", Header: "Problem", Left: true},
	{Key: "message", Header: "Message", Left: true, Max: 60},
	{Key: "created_at", Header: "Reported", Conv: output.Epoch},
}

var userColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "username", Header: "Username", Left: true},
	{Key: "email", Header: "Email", Left: true},
	{Key: "balance", Header: "Balance", Format: "$%.2f"},
	{Key: "credit", Header: "Credit", Format: "$%.2f"},
	{Key: "has_billing", Header: "Billing"},
	{Key: "ssh_key", Header: "SSH Key", Left: true, Max: 40},
}

var apiKeyColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "key_name", Header: "Name", Left: true},
	{Key: "key", Header: "Key", Left: true, Max: 16},
	{Key: "created_at", Header: "Created", Conv: output.Epoch},
	{Key: "rights", Header: "Permissions", Left: true, Max: 40},
}

var sshKeyColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "public_key", Header: "Key", Left: true, Max: 60},
	{Key: "created_at", Header: "Created", Left: true},
}

var envVarColumns = []output.Column{
	{Key: "name", Header: "Name", Left: true},
	{Key: "value", Header: "Value", Left: true, Max: 40},
}

var ipAddrColumns = []output.Column{
	{Key: "ip", Header: "IP", Left: true},
	{Key: "timestamp", Header: "Last seen", Conv: output.Epoch},
}

var auditLogColumns = []output.Column{
	{Key: "ip_address", Header: "IP", Left: true},
	{Key: "api_key_id", Header: "Key"},
	{Key: "created_at", Header: "Time", Conv: output.Epoch},
	{Key: "api_route", Header: "Route", Left: true},
	{Key: "args", Header: "Args", Left: true, Max: 40},
}

var subaccountColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "username", Header: "Username", Left: true},
	{Key: "email", Header: "Email", Left: true},
	{Key: "balance", Header: "Balance", Format: "$%.2f"},
	{Key: "host_only", Header: "Host only"},
}

var scheduledJobColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "instance_id", Header: "Instance"},
	{Key: "api_endpoint", Header: "Endpoint", Left: true},
	{Key: "start_time", Header: "Start", Conv: output.Epoch},
	{Key: "end_time", Header: "End", Conv: output.Epoch},
	{Key: "day_of_the_week", Header: "Day"},
	{Key: "hour_of_the_day", Header: "Hour"},
	{Key: "frequency", Header: "Frequency", Left: true},
}

var invoiceColumns = []output.Column{
	{Key: "type", Header: "Type", Left: true},
	{Key: "description", Header: "Description", Left: true, Max: 50},
	{Key: "quantity", Header: "Qty", Format: "%.2f"},
	{Key: "rate", Header: "Rate", Format: "%.4f"},
	{Key: "amount", Header: "Amount", Format: "$%.2f"},
	{Key: "timestamp", Header: "Date", Conv: output.Date},
}

var earningsColumns = []output.Column{
	{Key: "machine_id", Header: "Machine"},
	{Key: "gpu_earn", Header: "GPU", Format: "$%.2f"},
	{Key: "sto_earn", Header: "Storage", Format: "$%.2f"},
	{Key: "bwu_earn", Header: "Net up", Format: "$%.2f"},
	{Key: "bwd_earn", Header: "Net down", Format: "$%.2f"},
}

var depositColumns = []output.Column{
	{Key: "instance_id", Header: "Instance"},
	{Key: "refundable_deposit", Header: "Refundable", Format: "$%.2f"},
	{Key: "total_discount", Header: "Discount", Format: "$%.2f"},
	{Key: "discount_months", Header: "Months", Format: "%.1f"},
}

var memberColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "username", Header: "Username", Left: true},
	{Key: "email", Header: "Email", Left: true},
	{Key: "roles", Header: "Roles", Left: true},
}

var roleColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "name", Header: "Name", Left: true},
	{Key: "permissions", Header: "Permissions", Left: true, Max: 60},
}

var templateColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "hash_id", Header: "Hash", Left: true},
	{Key: "name", Header: "Name", Left: true, Max: 30},
	{Key: "image", Header: "Image", Left: true, Max: 40},
	{Key: "tag", Header: "Tag", Left: true},
	{Key: "recommended_disk_space", Header: "Disk", Format: "%.0f"},
	{Key: "count_created", Header: "Used"},
}

var benchmarkColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "machine_id", Header: "Machine"},
	{Key: "gpu_name", Header: "Model", Left: true},
	{Key: "num_gpus", Header: "N"},
	{Key: "dlperf", Header: "DLP", Format: "%.1f"},
	{Key: "score", Header: "Score", Format: "%.1f"},
	{Key: "last_update", Header: "Updated", Conv: output.Epoch},
}

var endpointColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "endpoint_name", Header: "Name", Left: true},
	{Key: "endpoint_state", Header: "State", Left: true},
	{Key: "min_load", Header: "Min load", Format: "%.1f"},
	{Key: "target_util", Header: "Target util", Format: "%.2f"},
	{Key: "cold_mult", Header: "Cold mult", Format: "%.1f"},
	{Key: "cold_workers", Header: "Cold"},
	{Key: "max_workers", Header: "Max"},
}

var workergroupColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "endpoint_name", Header: "Endpoint", Left: true},
	{Key: "template_hash", Header: "Template", Left: true},
	{Key: "gpu_ram", Header: "GPU RAM", Format: "%.0f"},
	{Key: "test_workers", Header: "Test"},
	{Key: "cold_workers", Header: "Cold"},
	{Key: "min_load", Header: "Min load", Format: "%.1f"},
	{Key: "target_util", Header: "Target util", Format: "%.2f"},
}

var connectionColumns = []output.Column{
	{Key: "id", Header: "ID"},
	{Key: "name", Header: "Name", Left: true},
	{Key: "cloud_type", Header: "Cloud", Left: true},
}

var selfTestColumns = []output.Column{
	{Key: "machine_id", Header: "Machine"},
	{Key: "offer_id", Header: "Offer"},
	{Key: "instance_id", Header: "Instance"},
	{Key: "gpu_name", Header: "GPU", Left: true},
	{Key: "passed", Header: "Passed"},
	{Key: "duration", Header: "Duration"},
	{Key: "reason", Header: "Reason", Left: true, Max: 60},
}

var selfTestHistoryColumns = []output.Column{
	{Key: "run_id", Header: "Run", Left: true, Max: 8},
	{Key: "machine_id", Header: "Machine"},
	{Key: "gpu_name", Header: "GPU", Left: true},
	{Key: "passed", Header: "Passed"},
	{Key: "duration", Header: "Duration"},
	{Key: "started_at", Header: "Started", Conv: output.Epoch},
	{Key: "reason", Header: "Reason", Left: true, Max: 50},
}

var selfTestSummaryColumns = []output.Column{
	{Key: "machine_id", Header: "Machine"},
	{Key: "runs", Header: "Runs"},
	{Key: "passed", Header: "Passed"},
	{Key: "pass_rate", Header: "Pass %", Format: "%.0f", Conv: output.Percent},
	{Key: "last_run", Header: "Last run", Conv: output.Epoch},
	{Key: "last_passed", Header: "Last passed"},
}
