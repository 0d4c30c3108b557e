package escalation

import "sort"

// ResolveRecipients は役職別ポリシーに従ってエスカレーションの宛先集合を決定する。
// 取得済みのデータのみを入力とする純粋関数であり、失敗モードを持たない。
//
// ポリシー（上方向のみのエスカレーション）:
//   - EMPLOYEE / INTERN / TEAM_LEADER: 直属上司 ＋ 全Director
//   - MANAGER: 全Director
//   - DIRECTOR: なし
//
// 直属上司より上の中間階層を再帰的に辿ることはせず、「全Director」という
// 固定のショートカットで代替する。これは意図された平坦な近似であり、
// 完全な推移閉包への変更は要件として明示されない限り行わない。
//
// targetIDが指定されており行為者自身でない場合は宛先に加える。
// 最後に行為者自身を必ず除外するため、階層に循環があっても自己通知は発生しない。
func ResolveRecipients(actor User, managerIDs, directorIDs []string, targetID string) []string {
	recipients := make(map[string]struct{})

	switch actor.Role {
	case RoleEmployee, RoleIntern, RoleTeamLeader:
		for _, id := range managerIDs {
			recipients[id] = struct{}{}
		}
		for _, id := range directorIDs {
			recipients[id] = struct{}{}
		}
	case RoleManager:
		for _, id := range directorIDs {
			recipients[id] = struct{}{}
		}
	case RoleDirector:
		// 役員は上方通知しない
	}

	if targetID != "" && targetID != actor.ID {
		recipients[targetID] = struct{}{}
	}

	delete(recipients, actor.ID)

	ids := make([]string, 0, len(recipients))
	for id := range recipients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
