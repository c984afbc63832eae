package advice

import (
	"strconv"
	"strings"
)

const systemPrompt = "你是一个专业的医疗导诊AI助手"

const formatInstructions = `请严格按照以下JSON格式输出，不要输出任何其他内容：
{
    "assessment": "状况评估（字符串，必填）",
    "immediate_actions": ["立即行动1", "立即行动2"],
    "medical_advice": "医疗建议（字符串）",
    "monitoring_points": ["监测要点1", "监测要点2"],
    "emergency_handling": "紧急处理建议（字符串）"
}`

const repairPrompt = `下面的输出本应是符合格式要求的JSON，但无法解析（错误：%s）。
请只输出修正后的JSON，不要添加解释。

## 格式要求
%s

## 原始输出
%s`

const intentPrompt = `判断下面的用户输入是否为医疗健康咨询（描述症状、询问病情或就医建议）。
只输出JSON：{"is_medical": true或false, "confidence": 0到100的整数, "reason": "简短理由"}

用户输入：%s`

// BuildPrompt renders the user message for an advice request.
func BuildPrompt(req Request) string {
	age := "未知"
	if req.Patient.Age != nil {
		age = strconv.Itoa(*req.Patient.Age)
	}

	var b strings.Builder
	b.WriteString("你是一个专业的医疗导诊AI助手。请根据提供的医疗信息生成准确、安全的建议。\n\n")
	b.WriteString("## 格式要求\n")
	b.WriteString(formatInstructions)
	b.WriteString("\n\n## 患者信息\n")
	line(&b, "年龄", age)
	line(&b, "性别", orDefault(req.Patient.Gender, "未知"))
	line(&b, "特殊状况", orDefault(req.Patient.SpecialConditions, "无"))
	b.WriteString("\n## 症状信息\n")
	line(&b, "疑似疾病", req.Symptom.DiseaseName)
	line(&b, "匹配症状", strings.Join(req.Symptom.MatchedSymptoms, ", "))
	b.WriteString("\n## 处理指南\n")
	line(&b, "紧急程度", string(req.Guideline.Urgency))
	line(&b, "建议措施", req.Guideline.RecommendedAction)
	b.WriteString("\n## 风险提示\n")
	line(&b, "注意事项", req.Risk.SpecialNotes)
	line(&b, "风险人群", strings.Join(req.Risk.RiskGroups, ", "))
	b.WriteString("\n请生成专业的医疗建议：")
	return b.String()
}

func line(b *strings.Builder, label, value string) {
	b.WriteString("- ")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
