package patterns

// Default 内置语料。顺序即匹配顺序；外部文件可按 ID 覆盖或禁用。
func Default() []Pattern {
	out := make([]Pattern, len(builtin))
	copy(out, builtin)
	return out
}

var builtin = []Pattern{
	// 文件系统破坏
	{ID: "fs-rm-recursive-force", Group: GroupDestructive, Category: "filesystem",
		Expr:        `\brm\s+(?:-\S+\s+)*-[a-z]*(?:rf|fr)[a-z]*`,
		Description: "recursive forced file deletion"},
	{ID: "fs-rm-split-flags", Group: GroupDestructive, Category: "filesystem",
		Expr:        `(?:^|[^\w-])rm\s+(?:[^\s;|&]+\s+)*?(?:-[a-z]*r[a-z]*|--recursive)\s+(?:[^\s;|&]+\s+)*?(?:-[a-z]*f[a-z]*|--force)(?:\s|$)`,
		Description: "recursive forced file deletion (split or long flags)"},
	{ID: "fs-rm-split-flags-force-first", Group: GroupDestructive, Category: "filesystem",
		Expr:        `(?:^|[^\w-])rm\s+(?:[^\s;|&]+\s+)*?(?:-[a-z]*f[a-z]*|--force)\s+(?:[^\s;|&]+\s+)*?(?:-[a-z]*r[a-z]*|--recursive)(?:\s|$)`,
		Description: "forced recursive file deletion (split or long flags)"},
	{ID: "fs-rm-no-preserve-root", Group: GroupDestructive, Category: "filesystem",
		Expr:        `--no-preserve-root`,
		Description: "deletion bypassing root protection"},
	{ID: "fs-mkfs", Group: GroupDestructive, Category: "filesystem",
		Expr:        `\bmkfs(?:\.[a-z0-9]+)?\b`,
		Description: "filesystem format"},
	{ID: "fs-chmod-root", Group: GroupDestructive, Category: "filesystem",
		Expr:        `\bchmod\s+-r\s+\S+\s+/(?:\s|$)`,
		Description: "recursive permission change on filesystem root"},
	{ID: "fs-find-delete-root", Group: GroupDestructive, Category: "filesystem",
		Expr:        `\bfind\s+/\s.*-delete\b`,
		Description: "mass deletion from filesystem root"},

	// 磁盘破坏
	{ID: "disk-dd-device", Group: GroupDestructive, Category: "disk",
		Expr:        `\bdd\b.*\bof=/dev/(?:sd|hd|nvme|xvd|vd|disk|mmcblk)`,
		Description: "raw write to block device"},
	{ID: "disk-redirect-device", Group: GroupDestructive, Category: "disk",
		Expr:        `>\s*/dev/(?:sd|hd|nvme|xvd|vd|mmcblk)[a-z0-9]*`,
		Description: "redirect onto block device"},
	{ID: "disk-shred-device", Group: GroupDestructive, Category: "disk",
		Expr:        `\bshred\b.*\s/dev/`,
		Description: "shred block device"},
	{ID: "disk-wipefs", Group: GroupDestructive, Category: "disk",
		Expr:        `\bwipefs\b`,
		Description: "wipe filesystem signatures"},

	// 数据库破坏
	{ID: "db-drop", Group: GroupDestructive, Category: "database",
		Expr:        `\bdrop\s+(?:database|table|schema)\b`,
		Description: "drop database object"},
	{ID: "db-truncate", Group: GroupDestructive, Category: "database",
		Expr:        `\btruncate\s+table\b`,
		Description: "truncate table"},
	{ID: "db-delete-unbounded", Group: GroupDestructive, Category: "database",
		Expr:        `\bdelete\s+from\s+[a-z0-9_."]+\s*(?:;|"|'|$)`,
		Description: "delete without where clause"},
	{ID: "db-redis-flush", Group: GroupDestructive, Category: "database",
		Expr:        `\bflush(?:all|db)\b`,
		Description: "flush key-value store"},
	{ID: "db-mongo-drop", Group: GroupDestructive, Category: "database",
		Expr:        `\.dropdatabase\s*\(`,
		Description: "drop document database"},

	// 网络破坏
	{ID: "net-iptables-flush", Group: GroupDestructive, Category: "network",
		Expr:        `\biptables\s+(?:-t\s+\S+\s+)?(?:-f|--flush)\b`,
		Description: "flush firewall rules"},
	{ID: "net-interface-down", Group: GroupDestructive, Category: "network",
		Expr:        `\b(?:ifconfig\s+\S+|ip\s+link\s+set\s+(?:dev\s+)?\S+)\s+down\b`,
		Description: "take network interface down"},
	{ID: "net-route-flush", Group: GroupDestructive, Category: "network",
		Expr:        `\bip\s+route\s+flush\b`,
		Description: "flush routing table"},

	// 系统可用性
	{ID: "sys-fork-bomb", Group: GroupDestructive, Category: "forkbomb",
		Expr:        `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
		Description: "fork bomb"},
	{ID: "sys-shutdown", Group: GroupDestructive, Category: "system",
		Expr:        `(?:^|[;&|]\s*|\s)(?:shutdown|reboot|poweroff|halt|init\s+0)(?:\s|;|$)`,
		Description: "system shutdown or reboot"},
	{ID: "sys-crontab-remove", Group: GroupDestructive, Category: "system",
		Expr:        `\bcrontab\s+-r\b`,
		Description: "remove all cron jobs"},

	// 提权捷径
	{ID: "priv-setuid", Group: GroupDestructive, Category: "privesc",
		Expr:        `\bchmod\s+(?:[ugoa]*\+s|[2467][0-7]{3})\s`,
		Description: "setuid/setgid bit change"},
	{ID: "priv-sudoers-write", Group: GroupDestructive, Category: "privesc",
		Expr:        `(?:>>?|tee\s+(?:-a\s+)?)\s*/etc/(?:sudoers|passwd|shadow)\b`,
		Description: "write to credential or sudoers file"},
	{ID: "priv-nopasswd", Group: GroupDestructive, Category: "privesc",
		Expr:        `nopasswd\s*:\s*all`,
		Description: "passwordless sudo grant"},

	// 风险模式：仅告警
	{ID: "risky-download-pipe-shell", Group: GroupRisky, Category: "download_exec",
		Expr:        `\b(?:curl|wget)\b[^|]*\|\s*(?:sudo\s+)?(?:ba|z|k|da)?sh\b`,
		Description: "download piped into shell"},
	{ID: "risky-base64-pipe-shell", Group: GroupRisky, Category: "download_exec",
		Expr:        `base64\s+(?:-d|--decode)[^|]*\|\s*(?:ba)?sh\b`,
		Description: "decoded payload piped into shell"},
	{ID: "risky-eval", Group: GroupRisky, Category: "eval",
		Expr:        `\beval\b`,
		Description: "dynamic evaluation"},
	{ID: "risky-sudo", Group: GroupRisky, Category: "elevation",
		Expr:        `\bsudo\b`,
		Description: "privilege elevation via sudo"},
	{ID: "risky-su", Group: GroupRisky, Category: "elevation",
		Expr:        `(?:^|[;&|]\s*|\s)su(?:\s+-|\s+root|\s*$)`,
		Description: "switch user"},

	// 数据外泄：评分用
	{ID: "exfil-scp", Group: GroupExfiltration, Category: "exfiltration",
		Expr:        `\bscp\b`,
		Description: "secure copy off host"},
	{ID: "exfil-curl-upload", Group: GroupExfiltration, Category: "exfiltration",
		Expr:        `\bcurl\b.*(?:\s-t\s|--upload-file|\s-f\s|--data-binary\s+@)`,
		Description: "HTTP upload"},
	{ID: "exfil-netcat-file", Group: GroupExfiltration, Category: "exfiltration",
		Expr:        `\b(?:nc|ncat|netcat)\b.*<\s*\S+`,
		Description: "netcat file transfer"},
	{ID: "exfil-db-dump", Group: GroupExfiltration, Category: "exfiltration",
		Expr:        `\b(?:mysqldump|pg_dump|pg_dumpall|mongodump|mongoexport)\b`,
		Description: "database dump"},
	{ID: "exfil-credential-files", Group: GroupExfiltration, Category: "credentials",
		Expr:        `/etc/shadow|\.ssh/id_[a-z0-9]+|\bntds\.dit\b|\bsam\s+system\b`,
		Description: "credential material access"},
	{ID: "exfil-secretsdump", Group: GroupExfiltration, Category: "credentials",
		Expr:        `\b(?:secretsdump|mimikatz|lsadump|hashdump)\b`,
		Description: "credential dumping tool"},

	// 可用性影响：评分用
	{ID: "avail-hping-flood", Group: GroupAvailability, Category: "flood",
		Expr:        `\bhping3?\b.*--flood`,
		Description: "packet flood"},
	{ID: "avail-slowloris", Group: GroupAvailability, Category: "flood",
		Expr:        `\bslowloris\b`,
		Description: "slow HTTP denial of service"},
	{ID: "avail-aggressive-timing", Group: GroupAvailability, Category: "concurrency",
		Expr:        `(?:^|\s)-t[45](?:\s|$)|--min-rate\s+\d+|--rate[ =]\d+|--max-parallelism\s+\d+`,
		Description: "aggressive scan timing"},
	{ID: "avail-high-threads", Group: GroupAvailability, Category: "concurrency",
		Expr:        `(?:--threads|-t)\s+(?:[5-9]\d|\d{3,})\b`,
		Description: "high thread count"},

	// 目标字段注入元字符
	{ID: "inject-semicolon", Group: GroupInjection, Category: "shell", Expr: `;`, Description: "command separator ';'"},
	{ID: "inject-pipe", Group: GroupInjection, Category: "shell", Expr: `\|`, Description: "pipe '|'"},
	{ID: "inject-and", Group: GroupInjection, Category: "shell", Expr: `&&`, Description: "command chain '&&'"},
	{ID: "inject-subshell", Group: GroupInjection, Category: "shell", Expr: `\$\(`, Description: "command substitution '$('"},
	{ID: "inject-backtick", Group: GroupInjection, Category: "shell", Expr: "`", Description: "backtick substitution"},
	{ID: "inject-newline", Group: GroupInjection, Category: "shell", Expr: `[\r\n]`, Description: "embedded newline"},
}
