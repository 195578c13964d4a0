package utils

// Label 是随物品在 Pipeline 中透传的标注：召回来源、模型版本、策略标记等。
// Value 为标注值，Source 为写入它的阶段（recall / filter / rerank / rule）。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

// MergeLabel 合并同名 Label：Value 以 '|' 累积、Source 以 ',' 累积，已出现过的片段不重复追加。
func MergeLabel(existing Label, incoming Label) Label {
	return Label{
		Value:  appendPart(existing.Value, incoming.Value, '|'),
		Source: appendPart(existing.Source, incoming.Source, ','),
	}
}

func appendPart(list, part string, sep byte) string {
	switch {
	case part == "":
		return list
	case list == "":
		return part
	}
	start := 0
	for i := 0; i <= len(list); i++ {
		if i == len(list) || list[i] == sep {
			if list[start:i] == part {
				return list
			}
			start = i + 1
		}
	}
	return list + string(sep) + part
}
