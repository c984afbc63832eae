package safety

import "regexp"

type Rule struct {
	ID       string
	Severity string
	Pattern  *regexp.Regexp
	Note     string
}

var (
	ruleDB = []Rule{
		{ID: "prompt-override", Severity: "HIGH", Pattern: regexp.MustCompile(`(system|prompt|ignore|previous|指令|提示|忽略|系统).*(override|覆盖|忽略|绕过)`), Note: "Attempt to override system instructions."},
		{ID: "attack-intent", Severity: "HIGH", Pattern: regexp.MustCompile(`\b(hack|attack|inject)|恶意|攻击|注入|破解`), Note: "Explicit attack or injection wording."},
		{ID: "credential-extraction", Severity: "HIGH", Pattern: regexp.MustCompile(`(password|token|key|secret|密码|密钥|秘钥).*(extract|获取|泄露)`), Note: "Attempt to extract credentials."},
		{ID: "code-injection", Severity: "HIGH", Pattern: regexp.MustCompile(`<script|javascript:|\b(sql|union|select|drop|delete)\b`), Note: "Script or SQL fragments in input."},
		{ID: "template-injection", Severity: "HIGH", Pattern: regexp.MustCompile(`\$\{.*\}|\{\{.*\}\}`), Note: "Template expression in input."},
		{ID: "forget-instructions", Severity: "HIGH", Pattern: regexp.MustCompile(`(忘记|忘掉).*(指令|提示|系统)`), Note: "Attempt to discard instructions."},
		{ID: "role-play", Severity: "MEDIUM", Pattern: regexp.MustCompile(`\b(role ?play|act as|pretend to be)\b|角色扮演|扮演`), Note: "Role-play request."},
		{ID: "bypass", Severity: "MEDIUM", Pattern: regexp.MustCompile(`\bbypass\b|跳过|绕过|突破`), Note: "Bypass wording."},
		{ID: "privilege", Severity: "MEDIUM", Pattern: regexp.MustCompile(`\b(admin|root|superuser)\b|管理员|超级用户`), Note: "Privileged role wording."},
	}
	severityWeight = map[string]int{
		"HIGH":   80,
		"MEDIUM": 20,
	}

	medicalKeywords = map[string][]string{
		"general":     {"头痛", "头晕", "眩晕", "晕", "疼", "痛", "不适", "难受", "不舒服", "发烧", "发热", "高烧", "低烧", "畏寒", "发冷", "寒战", "pain", "ache", "fever", "dizz", "headache", "unwell"},
		"respiratory": {"咳嗽", "咳痰", "痰多", "干咳", "呛咳", "气喘", "哮喘", "呼吸困难", "呼吸不畅", "胸闷", "胸痛", "胸口痛", "心疼", "心脏疼", "cough", "wheez", "short of breath", "shortness of breath", "chest pain"},
		"digestive":   {"恶心", "想吐", "呕吐", "反胃", "作呕", "肚子痛", "胃痛", "胃疼", "腹痛", "拉肚子", "腹泻", "便秘", "腹胀", "胃胀", "消化不良", "没胃口", "食欲不振", "nausea", "vomit", "diarrhea", "constipat", "stomach"},
		"systemic":    {"乏力", "疲劳", "虚弱", "没精神", "嗜睡", "失眠", "皮肤瘙痒", "红疹", "皮疹", "湿疹", "荨麻疹", "过敏", "疼痛", "酸痛", "胀痛", "刺痛", "绞痛", "隐痛", "fatigue", "tired", "rash", "itch", "allerg", "insomnia"},
		"circulatory": {"心慌", "心悸", "心跳快", "心律不齐", "胸闷气短", "血压高", "血压低", "头晕目眩", "palpitation", "blood pressure"},
		"ent":         {"鼻塞", "打喷嚏", "流涕", "鼻涕", "鼻痒", "鼻子痒", "咽痛", "咽喉痛", "喉咙痛", "嗓子疼", "声音嘶哑", "耳鸣", "听力下降", "视力模糊", "眼花", "眼睛痒", "眼痒", "眼睛发痒", "sneez", "runny nose", "stuffy nose", "sore throat", "blurred vision"},
	}

	medicalPhrases = []string{
		"怎么办", "怎么治疗", "吃什么药", "需要看医生吗", "严重吗", "是什么问题",
		"有什么建议", "需要注意什么", "会自愈吗", "要多久才好", "为什么会这样",
		"我头很晕", "我有点咳嗽", "我感觉不舒服", "我身体不舒服",
		"what should i do", "should i see a doctor", "is it serious", "what medicine",
	}

	attackKeywords = []string{
		"忽略", "覆盖", "绕过", "突破", "破解", "注入", "攻击", "恶意", "窃取", "泄露",
		"获取", "提取", "删除", "修改", "破坏", "禁用", "关闭", "跳过", "欺骗", "伪造",
	}

	systemKeywords = []string{"系统", "程序", "代码", "脚本", "数据库", "服务器", "管理员"}
)
