// Package domain contém os tipos do fórum usados pelo cálculo de score e pelo
// catálogo de estatísticas: usuário, voto, badge, sub, post e comentário.
package domain
