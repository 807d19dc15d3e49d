package risk

import "xiezhi/internal/models"

// 各子项上限；总分截断到 [0,1]。
const (
	maxPhase    = 0.30
	maxTool     = 0.25
	maxTarget   = 0.20
	maxCommand  = 0.30
	maxNetwork  = 0.15
	maxTemporal = 0.10

	unknownToolScore = 0.12
)

var phaseScores = map[models.PentestPhase]float64{
	models.PhaseReconnaissance:        0.05,
	models.PhaseScanning:              0.10,
	models.PhaseEnumeration:           0.12,
	models.PhaseVulnerabilityAnalysis: 0.15,
	models.PhaseExploitation:          0.30,
	models.PhasePostExploitation:      0.28,
	models.PhaseReporting:             0.00,
}

var toolScores = map[string]float64{
	// 被动/信息收集
	"whois":        0.00,
	"dig":          0.00,
	"nslookup":     0.00,
	"host":         0.00,
	"searchsploit": 0.02,
	"whatweb":      0.03,
	"subfinder":    0.03,
	"amass":        0.05,
	"curl":         0.05,
	"wget":         0.05,

	// 扫描/枚举
	"gobuster":   0.08,
	"dirb":       0.08,
	"nmap":       0.10,
	"ffuf":       0.10,
	"enum4linux": 0.10,
	"ssh":        0.10,
	"john":       0.10,
	"hashcat":    0.10,
	"nikto":      0.12,
	"wpscan":     0.12,
	"burpsuite":  0.12,
	"masscan":    0.15,
	"nuclei":     0.15,
	"bloodhound": 0.15,
	"nc":         0.15,
	"ncat":       0.15,
	"netcat":     0.15,

	// 利用/凭据
	"sqlmap":       0.20,
	"hydra":        0.22,
	"medusa":       0.22,
	"crackmapexec": 0.22,
	"impacket":     0.22,
	"secretsdump":  0.22,
	"responder":    0.22,
	"msfvenom":     0.22,
	"metasploit":   0.25,
	"msfconsole":   0.25,
	"mimikatz":     0.25,
}

type targetClass int

const (
	targetNone targetClass = iota
	targetBackup
	targetDatabase
	targetProduction
	targetDomainController
)

var targetScores = map[targetClass]float64{
	targetNone:             0.00,
	targetBackup:           0.10,
	targetDatabase:         0.15,
	targetProduction:       0.15,
	targetDomainController: 0.20,
}

var targetNames = map[targetClass]string{
	targetBackup:           "backup system",
	targetDatabase:         "database",
	targetProduction:       "production system",
	targetDomainController: "domain controller",
}

// targetKeywords 以去掉尾部数字后的 token 匹配，如 db01、dc-2、prod3。
var targetKeywords = map[string]targetClass{
	"dc": targetDomainController, "pdc": targetDomainController, "bdc": targetDomainController,
	"ad": targetDomainController, "ldap": targetDomainController, "kerberos": targetDomainController,
	"krbtgt": targetDomainController, "msdcs": targetDomainController, "domaincontroller": targetDomainController,

	"db": targetDatabase, "database": targetDatabase, "sql": targetDatabase, "mysql": targetDatabase,
	"mssql": targetDatabase, "postgres": targetDatabase, "postgresql": targetDatabase, "pg": targetDatabase,
	"oracle": targetDatabase, "mongo": targetDatabase, "mongodb": targetDatabase, "redis": targetDatabase,
	"elastic": targetDatabase, "elasticsearch": targetDatabase,

	"prod": targetProduction, "production": targetProduction, "prd": targetProduction, "live": targetProduction,

	"backup": targetBackup, "backups": targetBackup, "bak": targetBackup, "bkp": targetBackup,
}

// 命令子项：同组只计一次，取最高。
const (
	commandDestructive  = 0.30
	commandExfiltration = 0.20
	commandRisky        = 0.10
	declaredDestructive = 0.25
)

// 网络子项。
const (
	portsOver1000 = 0.10
	portsOver100  = 0.07
	portsOver10   = 0.05
	portsAny      = 0.02
	concurrency   = 0.03
	flood         = 0.05
)

// 时间子项。
const (
	offHoursBonus = 0.05
	offDaysBonus  = 0.05
)
